package recordstore

import (
	"crypto/ed25519"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gitgovernance/core/internal/envelope"
	"github.com/gitgovernance/core/internal/records"
)

func resolverFor(kp envelope.Keypair, keyID string) envelope.ResolvePublicKey {
	pub := kp.PrivateKey.Public().(ed25519.PublicKey)
	return func(candidate string) (ed25519.PublicKey, bool) {
		return pub, candidate == keyID
	}
}

func writeTestTask(t *testing.T, store *Store[records.Task], id string, kp envelope.Keypair) records.Record {
	t.Helper()
	payload := records.Task{ID: id, Title: "Fix auth bug", Status: records.TaskDraft, Priority: records.PriorityHigh}
	checksum, err := envelope.ComputeChecksum(payload)
	require.NoError(t, err)

	sig := envelope.Sign(checksum, "human:lead-dev", "author", "", 1000, kp.PrivateKey)
	rec := records.Record{
		Header: records.Header{
			Version:         records.CurrentEnvelopeVersion,
			Type:            records.TypeTask,
			PayloadChecksum: checksum,
			Signatures: []records.Signature{
				{KeyID: "human:lead-dev", Role: "author", Signature: sig, Timestamp: 1000},
			},
		},
		Payload: payload,
	}
	require.NoError(t, store.Put(id, rec))
	return rec
}

func TestStore_PutThenGet_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	kp := envelope.DeriveKeypair("seed")
	store := New[records.Task](dir, records.TypeTask, nil, resolverFor(kp, "human:lead-dev"))

	writeTestTask(t, store, "1752274500-task-fix-auth-bug", kp)

	got, err := store.Get("1752274500-task-fix-auth-bug")
	require.NoError(t, err)
	payload, ok := got.Payload.(records.Task)
	require.True(t, ok)
	require.Equal(t, "Fix auth bug", payload.Title)
}

func TestStore_Get_NotFound(t *testing.T) {
	dir := t.TempDir()
	store := New[records.Task](dir, records.TypeTask, nil, nil)
	_, err := store.Get("missing")
	var nf *NotFound
	require.ErrorAs(t, err, &nf)
}

func TestStore_Delete_Idempotent(t *testing.T) {
	dir := t.TempDir()
	store := New[records.Task](dir, records.TypeTask, nil, nil)
	require.NoError(t, store.Delete("never-existed"))
}

func TestStore_Put_RejectsChecksumMismatch(t *testing.T) {
	dir := t.TempDir()
	store := New[records.Task](dir, records.TypeTask, nil, nil)

	rec := records.Record{
		Header: records.Header{
			PayloadChecksum: "0000000000000000000000000000000000000000000000000000000000000000",
			Signatures:      []records.Signature{{KeyID: "k", Role: "author", Signature: "x", Timestamp: 1}},
		},
		Payload: records.Task{ID: "t1", Title: "oops"},
	}
	err := store.Put("t1", rec)
	require.Error(t, err)
	var mismatch *envelope.ChecksumMismatch
	require.ErrorAs(t, err, &mismatch)
}

func TestStore_List_SkipsTempFiles(t *testing.T) {
	dir := t.TempDir()
	kp := envelope.DeriveKeypair("seed")
	store := New[records.Task](dir, records.TypeTask, nil, resolverFor(kp, "human:lead-dev"))

	writeTestTask(t, store, "a", kp)
	writeTestTask(t, store, "b", kp)

	require.NoError(t, store.atomicWrite(filepath.Join(dir, "stray.json.tmp"), []byte("garbage")))

	ids, err := store.List()
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a", "b"}, ids)
}
