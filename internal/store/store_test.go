package store

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/benaskins/opm/internal/cipher"
)

var testPass = []byte("test passphrase")

func newTestDB(t *testing.T) (*DB, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "opm.db")
	db, err := Load(path, testPass)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	t.Cleanup(db.Close)
	return db, path
}

func mustEntry(t *testing.T, name, login, password string) Entry {
	t.Helper()
	e, err := NewEntry(Fields{Name: name, Login: login, Password: password})
	if err != nil {
		t.Fatalf("NewEntry: %v", err)
	}
	return e
}

func names(entries []Entry) []string {
	out := make([]string, len(entries))
	for i := range entries {
		out[i] = entries[i].Fields().Name
	}
	return out
}

// writeImage encrypts a raw image the way the store does and writes it.
func writeImage(t *testing.T, path string, img []byte) {
	t.Helper()
	var buf bytes.Buffer
	if err := cipher.NewSealer(testPass, cipher.ModeLegacy).Seal(&buf, img); err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0600); err != nil {
		t.Fatal(err)
	}
}

func TestLoadMissingCreatesEmptyDatabase(t *testing.T) {
	db, path := newTestDB(t)

	if db.Len() != 0 || db.Slots() != 0 {
		t.Errorf("expected empty database, got %d live / %d slots", db.Len(), db.Slots())
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("expected database file to be created: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("expected mode 0600, got %v", info.Mode().Perm())
	}

	again, err := Load(path, testPass)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	defer again.Close()
	if again.Len() != 0 {
		t.Errorf("expected 0 entries after reload, got %d", again.Len())
	}
}

func TestLoadZeroLengthFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "opm.db")
	if err := os.WriteFile(path, nil, 0600); err != nil {
		t.Fatal(err)
	}

	db, err := Load(path, testPass)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer db.Close()
	if db.Len() != 0 {
		t.Errorf("expected empty database, got %d", db.Len())
	}
}

func TestQueryScenario(t *testing.T) {
	db, _ := newTestDB(t)
	if err := db.Add(mustEntry(t, "github", "alice", "p1")); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if got := db.Query(""); len(got) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(got))
	}
	if got := db.Query("git"); len(got) != 1 || got[0].Fields().Password != "p1" {
		t.Errorf("expected github entry for 'git', got %v", names(got))
	}
	if got := db.Query("nomatch"); len(got) != 0 {
		t.Errorf("expected no entries, got %v", names(got))
	}
}

func TestQueryMatchesLoginIgnoringCase(t *testing.T) {
	db, _ := newTestDB(t)
	db.Add(mustEntry(t, "GitHub", "alice", "p1"))
	db.Add(mustEntry(t, "mail", "ALICE@example.com", "p2"))
	db.Add(mustEntry(t, "bank", "bob", "p3"))

	got := names(db.Query("Alice"))
	if len(got) != 2 || got[0] != "GitHub" || got[1] != "mail" {
		t.Errorf("expected [GitHub mail], got %v", got)
	}
	got = names(db.Query("HUB"))
	if len(got) != 1 || got[0] != "GitHub" {
		t.Errorf("expected [GitHub], got %v", got)
	}
}

func TestQueryFoldsASCIIOnly(t *testing.T) {
	db, _ := newTestDB(t)
	db.Add(mustEntry(t, "Übersetzer", "ÉMILE", "p1"))

	if got := db.Query("übersetzer"); len(got) != 0 {
		t.Errorf("expected no match across non-ASCII case, got %v", names(got))
	}
	if got := db.Query("BERSETZER"); len(got) != 1 {
		t.Errorf("expected ASCII letters to fold, got %v", names(got))
	}
	if got := db.Query("Émile"); len(got) != 1 {
		t.Errorf("expected login match, got %v", names(got))
	}
}

func TestRemoveReusesTombstone(t *testing.T) {
	db, _ := newTestDB(t)
	db.Add(mustEntry(t, "a", "x", "1"))
	if _, err := db.Remove(1); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	db.Add(mustEntry(t, "b", "y", "2"))

	all := db.All()
	if len(all) != 1 || all[0].Fields().Name != "b" {
		t.Fatalf("expected [b], got %v", names(all))
	}
	if db.Slots() != 1 {
		t.Errorf("expected table to stay at 1 slot, got %d", db.Slots())
	}
}

func TestRemoveKeepsOrder(t *testing.T) {
	db, _ := newTestDB(t)
	db.Add(mustEntry(t, "first", "x", "1"))
	db.Add(mustEntry(t, "second", "y", "2"))

	name, err := db.Remove(1)
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if name != "first" {
		t.Errorf("expected removed name first, got %q", name)
	}

	all := db.All()
	if len(all) != 1 || all[0].Fields().Name != "second" {
		t.Fatalf("expected [second], got %v", names(all))
	}

	// "second" is now index 1.
	if _, err := db.Remove(1); err != nil {
		t.Fatalf("Remove(1): %v", err)
	}
	if db.Len() != 0 {
		t.Errorf("expected empty database, got %d", db.Len())
	}
}

func TestRemoveSkipsTombstonesWhenCounting(t *testing.T) {
	db, _ := newTestDB(t)
	for _, n := range []string{"a", "b", "c", "d"} {
		db.Add(mustEntry(t, n, "l", "p"))
	}
	db.Remove(2) // b

	// Live listing is a, c, d; index 2 is c.
	if name, _ := db.Remove(2); name != "c" {
		t.Errorf("expected c, got %q", name)
	}
	if got := names(db.All()); len(got) != 2 || got[0] != "a" || got[1] != "d" {
		t.Errorf("expected [a d], got %v", got)
	}
}

func TestRemoveNotFound(t *testing.T) {
	db, _ := newTestDB(t)
	db.Add(mustEntry(t, "only", "x", "1"))

	for _, idx := range []int{0, -1, 2, 100} {
		if _, err := db.Remove(idx); !errors.Is(err, ErrNotFound) {
			t.Errorf("Remove(%d): expected ErrNotFound, got %v", idx, err)
		}
	}
	if db.Len() != 1 {
		t.Errorf("expected no state change, got %d entries", db.Len())
	}
}

func TestAddRejectsTombstone(t *testing.T) {
	db, _ := newTestDB(t)
	if err := db.Add(Entry{}); !errors.Is(err, ErrInvalidEntry) {
		t.Errorf("expected ErrInvalidEntry, got %v", err)
	}
	if db.Slots() != 0 {
		t.Errorf("expected no slot allocated, got %d", db.Slots())
	}
}

func TestPersistRoundTrip(t *testing.T) {
	db, path := newTestDB(t)
	db.Add(mustEntry(t, "one", "u1", "p1"))
	db.Add(mustEntry(t, "two", "u2", "p2"))
	db.Add(mustEntry(t, "three", "u3", "p3"))
	db.Remove(2)

	again, err := Load(path, testPass)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	defer again.Close()

	if again.Slots() != 3 {
		t.Errorf("expected tombstone to survive reload, got %d slots", again.Slots())
	}
	got := again.All()
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if f := got[1].Fields(); f.Name != "three" || f.Login != "u3" || f.Password != "p3" {
		t.Errorf("unexpected second entry: %+v", f)
	}
}

func storedCount(t *testing.T, path string) uint32 {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()
	s := cipher.NewSealer(testPass, cipher.ModeLegacy)
	defer s.Close()
	img, err := s.Open(f)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	h, _, err := decode(img)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return h.Count
}

func TestHeaderCountsSlotsIncludingTombstones(t *testing.T) {
	db, path := newTestDB(t)
	for _, n := range []string{"a", "b", "c"} {
		db.Add(mustEntry(t, n, "x", "p"))
	}
	db.Remove(2)
	if got := storedCount(t, path); got != 3 {
		t.Errorf("expected count 3 after remove, got %d", got)
	}

	again, err := Load(path, testPass)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	defer again.Close()
	if again.Len() != 2 || again.Slots() != 3 {
		t.Fatalf("expected 2 live in 3 slots, got %d in %d", again.Len(), again.Slots())
	}

	again.Add(mustEntry(t, "d", "x", "p"))
	if got := storedCount(t, path); got != 3 {
		t.Errorf("expected reused tombstone to keep count 3, got %d", got)
	}
	got := names(again.All())
	if len(got) != 3 || got[0] != "a" || got[1] != "d" || got[2] != "c" {
		t.Errorf("expected [a d c], got %v", got)
	}

	again.Add(mustEntry(t, "e", "x", "p"))
	if got := storedCount(t, path); got != 4 {
		t.Errorf("expected growth to raise count to 4, got %d", got)
	}
}

func TestLoadWrongPassphrase(t *testing.T) {
	db, path := newTestDB(t)
	db.Add(mustEntry(t, "github", "alice", "p1"))

	_, err := Load(path, []byte("not the passphrase"))
	if !errors.Is(err, ErrBadKeyOrCorrupt) {
		t.Errorf("expected ErrBadKeyOrCorrupt, got %v", err)
	}
}

func TestLoadDetectsSignatureCorruption(t *testing.T) {
	h := newHeader()
	good := encode(&h, nil)

	for i := 0; i < len(Signature); i++ {
		img := bytes.Clone(good)
		img[i] ^= 0xff
		path := filepath.Join(t.TempDir(), "opm.db")
		writeImage(t, path, img)

		if _, err := Load(path, testPass); !errors.Is(err, ErrBadKeyOrCorrupt) {
			t.Errorf("byte %d flipped: expected ErrBadKeyOrCorrupt, got %v", i, err)
		}
	}
}

func TestLoadDetectsSizeAndCountMismatch(t *testing.T) {
	h := newHeader()
	e := mustEntry(t, "x", "y", "z")
	img := encode(&h, []Entry{e, e})

	t.Run("trailing bytes", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "opm.db")
		writeImage(t, path, append(bytes.Clone(img), 1, 2, 3))
		if _, err := Load(path, testPass); !errors.Is(err, ErrCorrupt) {
			t.Errorf("expected ErrCorrupt, got %v", err)
		}
	})

	t.Run("count mismatch", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "opm.db")
		writeImage(t, path, img[:HeaderSize+EntrySize])
		if _, err := Load(path, testPass); !errors.Is(err, ErrCorrupt) {
			t.Errorf("expected ErrCorrupt, got %v", err)
		}
	})

	t.Run("short header", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "opm.db")
		writeImage(t, path, img[:100])
		if _, err := Load(path, testPass); !errors.Is(err, ErrCorrupt) {
			t.Errorf("expected ErrCorrupt, got %v", err)
		}
	})
}

func TestLoadRejectsNewerVersion(t *testing.T) {
	h := newHeader()
	h.Version = Version + 1
	path := filepath.Join(t.TempDir(), "opm.db")
	writeImage(t, path, encode(&h, nil))

	_, err := Load(path, testPass)
	if !errors.Is(err, ErrUnsupportedVersion) {
		t.Errorf("expected ErrUnsupportedVersion, got %v", err)
	}
	if errors.Is(err, ErrCorrupt) {
		t.Error("version error must be distinct from corruption")
	}
}

func TestLoadAcceptsOlderVersion(t *testing.T) {
	h := newHeader()
	h.Version = 0x100
	path := filepath.Join(t.TempDir(), "opm.db")
	writeImage(t, path, encode(&h, []Entry{mustEntry(t, "old", "u", "p")}))

	db, err := Load(path, testPass)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer db.Close()
	if db.Len() != 1 {
		t.Errorf("expected 1 entry, got %d", db.Len())
	}
}

func TestFailedPersistLeavesFileUntouched(t *testing.T) {
	db, path := newTestDB(t)
	db.Add(mustEntry(t, "kept", "u", "p"))
	before, _ := os.ReadFile(path)

	rename = func(string, string) error { return errors.New("disk full") }
	t.Cleanup(func() { rename = os.Rename })

	if err := db.Add(mustEntry(t, "lost", "u", "p")); !errors.Is(err, ErrIO) {
		t.Fatalf("expected ErrIO, got %v", err)
	}
	if _, err := db.Remove(1); !errors.Is(err, ErrIO) {
		t.Fatalf("expected ErrIO from remove, got %v", err)
	}

	after, _ := os.ReadFile(path)
	if !bytes.Equal(before, after) {
		t.Error("database file changed after failed persist")
	}
	if got := names(db.All()); len(got) != 1 || got[0] != "kept" {
		t.Errorf("expected in-memory table rolled back to [kept], got %v", got)
	}
	if db.Slots() != 1 {
		t.Errorf("expected 1 slot after rollback, got %d", db.Slots())
	}

	leftovers, _ := filepath.Glob(filepath.Join(filepath.Dir(path), ".opm.*"))
	if len(leftovers) != 0 {
		t.Errorf("expected temp files cleaned up, found %v", leftovers)
	}
}

func TestArgon2ModeDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "opm.db")
	db, err := Load(path, testPass, WithMode(cipher.ModeArgon2))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	db.Add(mustEntry(t, "kdf", "u", "p"))
	db.Close()

	again, err := Load(path, testPass)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	defer again.Close()
	if again.Mode() != cipher.ModeArgon2 {
		t.Errorf("expected argon2 mode, got %s", again.Mode())
	}
	if again.Len() != 1 {
		t.Errorf("expected 1 entry, got %d", again.Len())
	}
}
