package main

import (
	"flag"

	logrus "github.com/sirupsen/logrus"

	"tokentrust/pkg/config"
	solanaUtils "tokentrust/pkg/solana"
)

// keygen creates the trading wallet and stores it encrypted with
// KEYSTORE_PASSWORD.
func main() {
	settings, err := config.LoadSettings()
	if err != nil {
		logrus.Fatal("Failed to load settings: ", err)
	}
	settings.ConfigureLogging(false)

	dir := flag.String("dir", settings.KeystoreDir, "keystore directory")
	verify := flag.Bool("verify", true, "decrypt the entry after writing it")
	flag.Parse()

	if settings.KeystorePassword == "" {
		logrus.Fatal("KEYSTORE_PASSWORD is required")
	}

	km := solanaUtils.NewKeyManager(*dir)
	account, err := km.GenerateKeyPair()
	if err != nil {
		logrus.Fatal("Failed to generate key pair: ", err)
	}
	path, err := km.SaveKeyStoreEntry(account, settings.KeystorePassword)
	if err != nil {
		logrus.Fatal("Failed to save keystore entry: ", err)
	}
	address := account.PublicKey.ToBase58()

	if *verify {
		if _, err := km.LoadSigner(address, settings.KeystorePassword); err != nil {
			logrus.Fatal("Keystore entry does not decrypt: ", err)
		}
	}
	logrus.WithFields(logrus.Fields{"address": address, "path": path}).Info("Wallet created, set WALLET_ADDRESS to use it")
}
