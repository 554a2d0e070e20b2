package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/nick5616/batch-item-analyzer/internal/chat"
	"github.com/nick5616/batch-item-analyzer/internal/vision"
)

func main() {
	if len(os.Args) < 3 {
		fmt.Fprintf(os.Stderr, "Usage: %s <image-path> <question> [openai|gemini|both]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nEnvironment variables:\n")
		fmt.Fprintf(os.Stderr, "  OPENAI_API_KEY - Required for OpenAI\n")
		fmt.Fprintf(os.Stderr, "  GEMINI_API_KEY - Required for Gemini\n")
		os.Exit(1)
	}

	imagePath := os.Args[1]
	question := os.Args[2]
	backend := "openai"
	if len(os.Args) >= 4 {
		backend = os.Args[3]
	}

	imageData, err := os.ReadFile(imagePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read image: %v\n", err)
		os.Exit(1)
	}

	image := chat.NewAsset(imageData, getMimeType(imagePath), chat.NewBatchID())
	ctx := context.Background()

	switch backend {
	case "openai":
		runOpenAI(ctx, image, question)
	case "gemini":
		runGemini(ctx, image, question)
	case "both":
		runOpenAI(ctx, image, question)
		fmt.Println("\n" + strings.Repeat("-", 50) + "\n")
		runGemini(ctx, image, question)
	default:
		fmt.Fprintf(os.Stderr, "Unknown backend: %s (use openai, gemini, or both)\n", backend)
		os.Exit(1)
	}
}

func runOpenAI(ctx context.Context, image chat.Asset, question string) {
	fmt.Println("=== OPENAI ===")
	analyzer := vision.NewOpenAIAnalyzer(vision.OpenAIOpts{})
	printResult(analyzer.Analyze(ctx, image, question, os.Getenv("OPENAI_API_KEY")))
}

func runGemini(ctx context.Context, image chat.Asset, question string) {
	fmt.Println("=== GEMINI ===")
	analyzer := vision.NewGeminiAnalyzer()
	printResult(analyzer.Analyze(ctx, image, question, os.Getenv("GEMINI_API_KEY")))
}

func printResult(result chat.Result) {
	fmt.Printf("Outcome: %s\n", result.Outcome)
	fmt.Printf("Answer:  %s\n", result.Answer)
}

func getMimeType(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}
