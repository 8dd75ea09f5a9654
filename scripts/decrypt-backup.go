// Usage: go run scripts/decrypt-backup.go <encrypted-file> <output-file>
// Requires ENCRYPTION_KEY environment variable (base64-encoded 32-byte key)
package main

import (
	"encoding/base64"
	"fmt"
	"io"
	"os"

	"github.com/jorgepascosoto/collection-archiver/internal/encrypt"
)

func main() {
	if len(os.Args) != 3 {
		fmt.Fprintf(os.Stderr, "Usage: %s <encrypted-file> <output-file>\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Requires ENCRYPTION_KEY environment variable\n")
		os.Exit(1)
	}

	if err := decryptFile(os.Getenv("ENCRYPTION_KEY"), os.Args[1], os.Args[2]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	fmt.Println("Decrypted successfully")
}

func decryptFile(keyBase64, inputPath, outputPath string) error {
	if keyBase64 == "" {
		return fmt.Errorf("ENCRYPTION_KEY environment variable not set")
	}

	key, err := base64.StdEncoding.DecodeString(keyBase64)
	if err != nil {
		return fmt.Errorf("failed to decode key: %w", err)
	}

	decryptor, err := encrypt.NewAESEncryptor(key)
	if err != nil {
		return err
	}

	input, err := os.Open(inputPath)
	if err != nil {
		return fmt.Errorf("failed to open input: %w", err)
	}
	defer input.Close()

	plain, err := decryptor.Decrypt(input)
	if err != nil {
		return err
	}
	defer plain.Close()

	// The output only appears once every frame has been authenticated.
	tmp := outputPath + ".partial"
	output, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create output: %w", err)
	}

	if _, err := io.Copy(output, plain); err != nil {
		output.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to decrypt: %w", err)
	}
	if err := output.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write output: %w", err)
	}

	return os.Rename(tmp, outputPath)
}
