package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	key, err := DeriveKey("test-passphrase")
	require.NoError(t, err)
	store, err := NewSQLiteStore(":memory:", key)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore_GetSetDelete(t *testing.T) {
	store := newTestStore(t)

	_, ok, err := store.Get(1, "chat_history")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Set(1, "chat_history", `[{"type":"upload"}]`))

	value, ok, err := store.Get(1, "chat_history")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `[{"type":"upload"}]`, value)

	// Overwrite
	require.NoError(t, store.Set(1, "chat_history", "[]"))
	value, ok, err = store.Get(1, "chat_history")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "[]", value)

	require.NoError(t, store.Delete(1, "chat_history"))
	_, ok, err = store.Get(1, "chat_history")
	require.NoError(t, err)
	assert.False(t, ok)

	// Deleting an absent key is fine
	require.NoError(t, store.Delete(1, "chat_history"))
}

func TestSQLiteStore_KeysAreScopedPerUser(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Set(1, "chat_history", "user-1"))
	require.NoError(t, store.Set(2, "chat_history", "user-2"))

	value, ok, err := store.Get(1, "chat_history")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "user-1", value)

	require.NoError(t, store.Delete(1, "chat_history"))
	_, ok, _ = store.Get(1, "chat_history")
	assert.False(t, ok)

	value, ok, err = store.Get(2, "chat_history")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "user-2", value)
}

func TestSQLiteStore_CredentialRoundTrip(t *testing.T) {
	store := newTestStore(t)

	credential, err := store.GetCredential(1)
	require.NoError(t, err)
	assert.Equal(t, "", credential)

	require.NoError(t, store.SetCredential(1, "sk-secret"))

	credential, err = store.GetCredential(1)
	require.NoError(t, err)
	assert.Equal(t, "sk-secret", credential)

	// The stored form must not be the plaintext
	var encrypted string
	err = store.db.QueryRow("SELECT encrypted_credential FROM credentials WHERE user_id = 1").Scan(&encrypted)
	require.NoError(t, err)
	assert.NotContains(t, encrypted, "sk-secret")

	require.NoError(t, store.DeleteCredential(1))
	credential, err = store.GetCredential(1)
	require.NoError(t, err)
	assert.Equal(t, "", credential)
}

func TestSQLiteStore_UnreadableCredentialTreatedAsUnset(t *testing.T) {
	store := newTestStore(t)

	_, err := store.db.Exec(
		"INSERT INTO credentials (user_id, encrypted_credential, updated_at) VALUES (1, 'garbage', CURRENT_TIMESTAMP)",
	)
	require.NoError(t, err)

	credential, err := store.GetCredential(1)
	require.NoError(t, err)
	assert.Equal(t, "", credential)
}

func TestUserKV_ScopesToUser(t *testing.T) {
	store := newTestStore(t)
	kv := NewUserKV(store, 42)

	require.NoError(t, kv.Set("chat_history", "x"))

	value, ok, err := kv.Get("chat_history")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "x", value)

	_, ok, err = store.Get(43, "chat_history")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, kv.Delete("chat_history"))
	_, ok, _ = kv.Get("chat_history")
	assert.False(t, ok)
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	key, err := DeriveKey("passphrase")
	require.NoError(t, err)

	encrypted, err := Encrypt([]byte("hello"), key)
	require.NoError(t, err)

	plaintext, err := Decrypt(encrypted, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), plaintext)

	// Same plaintext encrypts differently (random nonce)
	encrypted2, err := Encrypt([]byte("hello"), key)
	require.NoError(t, err)
	assert.NotEqual(t, encrypted, encrypted2)
}

func TestDecrypt_WrongKey(t *testing.T) {
	key1, err := DeriveKey("one")
	require.NoError(t, err)
	key2, err := DeriveKey("two")
	require.NoError(t, err)

	encrypted, err := Encrypt([]byte("hello"), key1)
	require.NoError(t, err)

	_, err = Decrypt(encrypted, key2)
	assert.Error(t, err)
}

func TestDeriveKey_EmptyPassphrase(t *testing.T) {
	_, err := DeriveKey("")
	assert.Error(t, err)
}
