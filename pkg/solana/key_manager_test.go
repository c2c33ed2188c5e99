package solana

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyManager(t *testing.T) {
	km := NewKeyManager(t.TempDir())

	t.Run("Generate Key Pair", func(t *testing.T) {
		account, err := km.GenerateKeyPair()
		require.NoError(t, err)
		assert.NotEmpty(t, account.PublicKey.ToBase58())
		assert.Equal(t, 64, len(account.PrivateKey), "Private key should be 64 bytes")
	})

	t.Run("Encrypt and Decrypt Private Key", func(t *testing.T) {
		account, err := km.GenerateKeyPair()
		require.NoError(t, err)

		encrypted, err := km.EncryptPrivateKey(account.PrivateKey, "test-password")
		require.NoError(t, err)
		assert.NotEmpty(t, encrypted)

		decrypted, err := km.DecryptPrivateKey(encrypted, "test-password")
		require.NoError(t, err)
		assert.Equal(t, []byte(account.PrivateKey), decrypted)
	})

	t.Run("Save and Load Keystore Entry", func(t *testing.T) {
		account, err := km.GenerateKeyPair()
		require.NoError(t, err)
		address := account.PublicKey.ToBase58()

		path, err := km.SaveKeyStoreEntry(account, "test-password")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(km.Dir(), address+".json"), path)

		raw, err := os.ReadFile(path)
		require.NoError(t, err)
		var entry KeyStoreEntry
		require.NoError(t, json.Unmarshal(raw, &entry))
		assert.Equal(t, address, entry.Address)
		assert.Equal(t, 1, entry.Version)

		loaded, err := km.LoadKeyStoreEntry(address, "test-password")
		require.NoError(t, err)
		assert.Equal(t, account.PrivateKey, loaded.PrivateKey)
	})

	t.Run("Get Solana Address", func(t *testing.T) {
		account, err := km.GenerateKeyPair()
		require.NoError(t, err)

		address, err := km.GetSolanaAddressFromPrivateKey(account.PrivateKey)
		require.NoError(t, err)
		assert.Equal(t, account.PublicKey.ToBase58(), address)
	})

	t.Run("Error Cases", func(t *testing.T) {
		account, err := km.GenerateKeyPair()
		require.NoError(t, err)

		encrypted, err := km.EncryptPrivateKey(account.PrivateKey, "password1")
		require.NoError(t, err)
		_, err = km.DecryptPrivateKey(encrypted, "password2")
		assert.Error(t, err)

		_, err = km.LoadKeyStoreEntry("nonexistent", "password1")
		assert.Error(t, err)

		_, err = km.GetSolanaAddressFromPrivateKey([]byte("invalid-key"))
		assert.Error(t, err)

		_, err = km.SaveKeyStoreEntry(account, "password1")
		require.NoError(t, err)
		_, err = km.LoadSigner(account.PublicKey.ToBase58(), "wrong")
		assert.Error(t, err)
	})
}

func TestKeySigner(t *testing.T) {
	km := NewKeyManager(t.TempDir())
	account, err := km.GenerateKeyPair()
	require.NoError(t, err)
	_, err = km.SaveKeyStoreEntry(account, "pw")
	require.NoError(t, err)

	signer, err := km.LoadSigner(account.PublicKey.ToBase58(), "pw")
	require.NoError(t, err)
	assert.Equal(t, account.PublicKey.ToBase58(), signer.PublicKey().String())

	t.Run("Signs when wallet is payer", func(t *testing.T) {
		tx, err := solana.NewTransaction(
			[]solana.Instruction{system.NewTransferInstruction(1, signer.PublicKey(), solana.NewWallet().PublicKey()).Build()},
			solana.Hash{1},
			solana.TransactionPayer(signer.PublicKey()),
		)
		require.NoError(t, err)

		require.NoError(t, signer.SignTransaction(context.Background(), tx))
		assert.NoError(t, tx.VerifySignatures())
	})

	t.Run("Rejects foreign transaction", func(t *testing.T) {
		other := solana.NewWallet().PublicKey()
		tx, err := solana.NewTransaction(
			[]solana.Instruction{system.NewTransferInstruction(1, other, solana.NewWallet().PublicKey()).Build()},
			solana.Hash{1},
			solana.TransactionPayer(other),
		)
		require.NoError(t, err)
		assert.Error(t, signer.SignTransaction(context.Background(), tx))
	})
}
