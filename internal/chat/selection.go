package chat

// Selection tracks which images are currently selected and which batch they
// belong to. Selection is exclusive to a single batch: it never spans two
// batches at once. The zero value is an empty selection.
//
// Selection is transient, in-memory state. It is mutated only from the
// session worker goroutine and is never persisted.
type Selection struct {
	selected    map[string]struct{}
	activeBatch string
}

// NewSelection returns an empty selection.
func NewSelection() *Selection {
	return &Selection{selected: make(map[string]struct{})}
}

// OnUpload replaces the selection wholesale with the freshly uploaded batch.
// Any previously selected images, from any batch, are deselected: the newest
// batch is always fully pre-selected.
func (s *Selection) OnUpload(batchID string, assetIDs []string) {
	s.selected = make(map[string]struct{}, len(assetIDs))
	for _, id := range assetIDs {
		s.selected[id] = struct{}{}
	}
	if len(s.selected) == 0 {
		s.activeBatch = ""
		return
	}
	s.activeBatch = batchID
}

// Toggle flips the selection state of one asset. Toggling an asset from a
// batch other than the active one discards the old selection first, so a
// cross-batch tap always starts a fresh selection containing just that
// asset. When the last asset is toggled off, the active batch clears.
func (s *Selection) Toggle(assetID, ownerBatchID string) {
	if s.activeBatch != ownerBatchID {
		s.selected = make(map[string]struct{})
		s.activeBatch = ownerBatchID
	}
	if _, ok := s.selected[assetID]; ok {
		delete(s.selected, assetID)
	} else {
		s.selected[assetID] = struct{}{}
	}
	if len(s.selected) == 0 {
		s.activeBatch = ""
	}
}

// Clear empties the selection and clears the active batch.
func (s *Selection) Clear() {
	s.selected = make(map[string]struct{})
	s.activeBatch = ""
}

// IsSelected reports whether the asset is currently selected.
func (s *Selection) IsSelected(assetID string) bool {
	_, ok := s.selected[assetID]
	return ok
}

// ActiveBatch returns the active batch ID, or "" if nothing is selected.
func (s *Selection) ActiveBatch() string {
	return s.activeBatch
}

// Count returns the number of selected assets.
func (s *Selection) Count() int {
	return len(s.selected)
}

// SelectedIDs returns the selected asset IDs as a set snapshot.
func (s *Selection) SelectedIDs() map[string]struct{} {
	ids := make(map[string]struct{}, len(s.selected))
	for id := range s.selected {
		ids[id] = struct{}{}
	}
	return ids
}
