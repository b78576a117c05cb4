package wallet

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"

	"example.com/lumen/pkg/tokens"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/ripemd160"
)

var (
	ErrInvalidAddress = errors.New("invalid holder address")
	ErrNoPrivateKey   = errors.New("private key not available")
)

// Wallet stores the key pair a holder address is derived from.
type Wallet struct {
	PrivateKey *ecdsa.PrivateKey
	PublicKey  []byte
}

// NewWallet creates and returns a new wallet
func NewWallet() (*Wallet, error) {
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return fromPrivateKey(privateKey), nil
}

func fromPrivateKey(privateKey *ecdsa.PrivateKey) *Wallet {
	pub := append(privateKey.PublicKey.X.FillBytes(make([]byte, 32)), privateKey.PublicKey.Y.FillBytes(make([]byte, 32))...)
	return &Wallet{PrivateKey: privateKey, PublicKey: pub}
}

// PublicKeyHex returns the public key in hexadecimal format
func (w *Wallet) PublicKeyHex() string {
	return hex.EncodeToString(w.PublicKey)
}

// Address returns the ledger holder controlled by this wallet.
func (w *Wallet) Address() tokens.Holder {
	return common.BytesToAddress(hashPublicKey(w.PublicKey))
}

// ParseHolder decodes a 20-byte hex address, with or without 0x prefix.
func ParseHolder(s string) (tokens.Holder, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return tokens.Holder{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	return common.HexToAddress(s), nil
}

// Backup saves the private scalar to a file readable only by its owner.
func (w *Wallet) Backup(filename string) error {
	key, err := w.ExportPrivateKey()
	if err != nil {
		return err
	}
	if err := os.WriteFile(filename, []byte(key), 0600); err != nil {
		return fmt.Errorf("backup wallet: %w", err)
	}
	return nil
}

// Restore loads a wallet written by Backup.
func Restore(filename string) (*Wallet, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("restore wallet: %w", err)
	}

	raw, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil || len(raw) == 0 {
		return nil, errors.New("restore wallet: malformed private key")
	}

	curve := elliptic.P256()
	d := new(big.Int).SetBytes(raw)
	if d.Sign() == 0 || d.Cmp(curve.Params().N) >= 0 {
		return nil, errors.New("restore wallet: private key out of range")
	}

	priv := &ecdsa.PrivateKey{D: d}
	priv.PublicKey.Curve = curve
	priv.PublicKey.X, priv.PublicKey.Y = curve.ScalarBaseMult(raw)
	return fromPrivateKey(priv), nil
}

// ExportPrivateKey exports the private key in hexadecimal format (secure only for backups)
func (w *Wallet) ExportPrivateKey() (string, error) {
	if w.PrivateKey == nil {
		return "", ErrNoPrivateKey
	}
	return hex.EncodeToString(w.PrivateKey.D.FillBytes(make([]byte, 32))), nil
}

// hashPublicKey performs SHA256 followed by RIPEMD160 on the public key
func hashPublicKey(pubKey []byte) []byte {
	pubHash := sha256.Sum256(pubKey)
	ripeHasher := ripemd160.New()
	// hash.Hash writes never fail
	_, _ = ripeHasher.Write(pubHash[:])
	return ripeHasher.Sum(nil)
}
