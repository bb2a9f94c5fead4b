package sessionstore

import (
	"crypto/sha256"
	"errors"
	"os"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/pbkdf2"

	"github.com/LonamiWebs/gomtproto/internal/coreerr"
	"github.com/LonamiWebs/gomtproto/internal/mtcrypto"
)

const (
	fileKeySize      = 32
	fileSaltSize     = 16
	fileNonceSize    = 24
	pbkdf2Iterations = 200_000
)

// FileStore is the teacher's belt-and-suspenders statefile idiom
// (disk.go's StateWriter): a passphrase-encrypted single file written
// via a temp-file-plus-rename sequence so a crash never leaves a
// half-written session behind. It persists synchronously on Save —
// unlike disk.go's channel-driven async writer, the auth key must be
// durable before the caller's next request per §4.7, so there is
// nothing to gain by acknowledging the Save before the fsync-equivalent
// rename completes.
//
// Where disk.go derives its key with argon2 over a nil salt, FileStore
// uses pbkdf2 (golang.org/x/crypto/pbkdf2) over a random per-file salt
// stored in the file header, matching the ambient stack's KDF choice
// (§10) without reusing disk.go's fixed-salt shortcut.
type FileStore struct {
	path string
	key  [fileKeySize]byte
}

// OpenFileStore derives the encryption key for path from passphrase,
// generating a fresh random salt if path does not exist yet, or
// reading the salt already stored in path's header otherwise.
func OpenFileStore(path string, passphrase []byte) (*FileStore, error) {
	salt, err := readOrCreateSalt(path)
	if err != nil {
		return nil, err
	}
	fs := &FileStore{path: path}
	copy(fs.key[:], pbkdf2.Key(passphrase, salt, pbkdf2Iterations, fileKeySize, sha256.New))
	return fs, nil
}

func readOrCreateSalt(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return mtcrypto.SecureRandom(fileSaltSize)
		}
		return nil, &coreerr.IoError{Err: err}
	}
	if len(raw) < fileSaltSize {
		return nil, &coreerr.ProtocolError{Err: errors.New("sessionstore: statefile too short to contain a salt")}
	}
	return append([]byte(nil), raw[:fileSaltSize]...), nil
}

func (f *FileStore) Load() (*Record, bool, error) {
	raw, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, &coreerr.IoError{Err: err}
	}
	if len(raw) < fileSaltSize+fileNonceSize {
		return nil, false, &coreerr.ProtocolError{Err: errors.New("sessionstore: statefile too short")}
	}

	var nonce [fileNonceSize]byte
	copy(nonce[:], raw[fileSaltSize:fileSaltSize+fileNonceSize])
	ciphertext := raw[fileSaltSize+fileNonceSize:]

	plaintext, ok := secretbox.Open(nil, ciphertext, &nonce, &f.key)
	if !ok {
		return nil, false, &coreerr.ProtocolError{Err: errors.New("sessionstore: failed to decrypt statefile (wrong passphrase?)")}
	}

	rec := &Record{}
	if err := cbor.Unmarshal(plaintext, rec); err != nil {
		return nil, false, &coreerr.ProtocolError{Err: err}
	}
	if rec.ChannelPTS == nil {
		rec.ChannelPTS = make(map[int64]int32)
	}
	if rec.PeerHashes == nil {
		rec.PeerHashes = make(map[int64]int64)
	}
	return rec, true, nil
}

// Save encodes rec and atomically replaces the statefile: write to
// ".tmp", drop the previous "~" backup, rotate live -> "~",
// ".tmp" -> live, per disk.go's writeState sequence.
func (f *FileStore) Save(rec *Record) error {
	plaintext, err := cbor.Marshal(rec)
	if err != nil {
		return err
	}

	var nonce [fileNonceSize]byte
	nonceBytes, err := mtcrypto.SecureRandom(fileNonceSize)
	if err != nil {
		return err
	}
	copy(nonce[:], nonceBytes)

	ciphertext := secretbox.Seal(nil, plaintext, &nonce, &f.key)

	salt, err := readOrCreateSalt(f.path)
	if err != nil {
		return err
	}
	out := append(append([]byte(nil), salt...), nonce[:]...)
	out = append(out, ciphertext...)

	if err := os.WriteFile(f.path+".tmp", out, 0600); err != nil {
		return &coreerr.IoError{Err: err}
	}
	if err := os.Remove(f.path + "~"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return &coreerr.IoError{Err: err}
	}
	if err := os.Rename(f.path, f.path+"~"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return &coreerr.IoError{Err: err}
	}
	if err := os.Rename(f.path+".tmp", f.path); err != nil {
		return &coreerr.IoError{Err: err}
	}
	if err := os.Remove(f.path + "~"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return &coreerr.IoError{Err: err}
	}
	return nil
}

func (f *FileStore) Clear() error {
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return &coreerr.IoError{Err: err}
	}
	return nil
}

func (f *FileStore) Close() error { return nil }
