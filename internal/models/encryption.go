package models

import "github.com/jimdaga/docpilot/internal/crypto"

var encryptor *crypto.TokenEncryptor

// InitEncryption initializes the encryptor used for secrets at rest.
// Must be called before any database operations involving AuthIdentity or Project.
func InitEncryption(encryptionKey string) error {
	var err error
	encryptor, err = crypto.NewTokenEncryptor(encryptionKey)
	return err
}

// encryptInPlace replaces a non-empty value with its ciphertext.
// Without an initialized encryptor values are stored as-is.
func encryptInPlace(value *string) error {
	if encryptor == nil || *value == "" {
		return nil
	}
	encrypted, err := encryptor.Encrypt(*value)
	if err != nil {
		return err
	}
	*value = encrypted
	return nil
}

func decryptInPlace(value *string) error {
	if encryptor == nil || *value == "" {
		return nil
	}
	decrypted, err := encryptor.Decrypt(*value)
	if err != nil {
		return err
	}
	*value = decrypted
	return nil
}
