package commands

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/opd-ai/noisenet"
	"github.com/opd-ai/noisenet/crypto"
	"github.com/spf13/cobra"
)

const (
	secretKeyFile = "key"
	publicKeyFile = "key.pub"
)

var (
	seedHex   string
	printOnly bool
)

// NewKeygenCmd produces a KeygenCmd which creates a key pair
func NewKeygenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "keygen",
		Short:   "Create new key pair",
		PreRunE: loadConfig,
		RunE:    keygen,
	}

	AddKeygenFlags(cmd)

	return cmd
}

// AddKeygenFlags adds flags to the keygen command
func AddKeygenFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&seedHex, "seed", "", "Derive the key pair from a 32-byte hex seed")
	cmd.Flags().BoolVar(&printOnly, "print", false, "Print the key pair instead of saving it")
}

func keygen(cmd *cobra.Command, args []string) error {
	keyPair, err := generateKeyPair(seedHex)
	if err != nil {
		return err
	}

	if printOnly {
		fmt.Println("PublicKey:", keyPair.PublicHex())
		fmt.Println("SecretKey:", keyPair.SecretHex())
		return nil
	}

	secretPath := filepath.Join(_config.DataDir, secretKeyFile)
	if _, err := os.Stat(secretPath); err == nil {
		return fmt.Errorf("a key already lives under: %s", _config.DataDir)
	}

	if err := os.MkdirAll(_config.DataDir, 0o700); err != nil {
		return fmt.Errorf("writing key pair: %w", err)
	}
	if err := os.WriteFile(secretPath, []byte(keyPair.SecretHex()), 0o600); err != nil {
		return fmt.Errorf("writing secret key: %w", err)
	}
	publicPath := filepath.Join(_config.DataDir, publicKeyFile)
	if err := os.WriteFile(publicPath, []byte(keyPair.PublicHex()), 0o644); err != nil {
		return fmt.Errorf("writing public key: %w", err)
	}

	fmt.Printf("Your key pair has been saved to: %s\n", _config.DataDir)
	fmt.Println("PublicKey:", keyPair.PublicHex())
	return nil
}

func generateKeyPair(seed string) (*crypto.KeyPair, error) {
	if seed == "" {
		return noisenet.Keygen()
	}

	raw, err := hex.DecodeString(seed)
	if err != nil || len(raw) != crypto.KeySize {
		return nil, fmt.Errorf("seed must be %d hex-encoded bytes", crypto.KeySize)
	}
	var s [crypto.KeySize]byte
	copy(s[:], raw)
	return noisenet.SeedKeygen(s)
}

// readKeyPair loads the key pair saved by keygen. ok is false if datadir
// holds none.
func readKeyPair(datadir string) (kp *crypto.KeyPair, ok bool, err error) {
	secret, err := os.ReadFile(filepath.Join(datadir, secretKeyFile))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	public, err := os.ReadFile(filepath.Join(datadir, publicKeyFile))
	if err != nil {
		return nil, false, err
	}

	kp, err = crypto.ParseKeyPair(strings.TrimSpace(string(public)), strings.TrimSpace(string(secret)))
	if err != nil {
		return nil, false, fmt.Errorf("reading key pair from %s: %w", datadir, err)
	}
	return kp, true, nil
}
