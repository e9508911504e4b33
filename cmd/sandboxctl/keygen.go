package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Klingon-tech/klingnet-sandbox/internal/keystore"
	"github.com/Klingon-tech/klingnet-sandbox/pkg/crypto"
	"github.com/Klingon-tech/klingnet-sandbox/pkg/types"
)

// KeygenOptions holds flags for the keygen command.
type KeygenOptions struct {
	*RootOptions
	KeyType    string
	Account    string
	SeedPhrase bool
	Out        string
	Keystore   string
	Network    string
	Encrypt    bool
}

// NewKeygenCommand creates the keygen command.
func NewKeygenCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &KeygenOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a key pair and optionally store it as credentials",
		Long: `Generate a key pair. With --account the key is written as credentials,
either to --out as a plain key file or into a keystore under
<keystore>/<network>/<account>.json, sealed with a passphrase when
--encrypt is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeygen(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.KeyType, "type", string(crypto.ED25519), "key type (ed25519, secp256k1)")
	cmd.Flags().StringVar(&opts.Account, "account", "", "account id the key belongs to")
	cmd.Flags().BoolVar(&opts.SeedPhrase, "seed-phrase", false, "derive the key from a new 12-word seed phrase")
	cmd.Flags().StringVar(&opts.Out, "out", "", "write a plain credentials file here")
	cmd.Flags().StringVar(&opts.Keystore, "keystore", "", "keystore directory (default: ~/.klingnet-sandbox/credentials)")
	cmd.Flags().StringVar(&opts.Network, "network", "sandbox", "keystore network")
	cmd.Flags().BoolVar(&opts.Encrypt, "encrypt", false, "seal the keystore entry with a passphrase")

	return cmd
}

func runKeygen(cmd *cobra.Command, opts *KeygenOptions) error {
	kt, err := crypto.ParseKeyType(opts.KeyType)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	var kp *crypto.KeyPair
	if opts.SeedPhrase {
		mnemonic, err := crypto.GenerateSeedPhrase()
		if err != nil {
			return err
		}
		if kp, err = crypto.FromSeedPhrase(mnemonic, "", kt); err != nil {
			return err
		}
		fmt.Fprintf(out, "Seed phrase: %s\n", mnemonic)
	} else if kp, err = crypto.Generate(kt); err != nil {
		return err
	}
	fmt.Fprintf(out, "Public key:  %s\n", kp.PublicKey())

	if opts.Account == "" {
		if opts.Out != "" || opts.Keystore != "" || opts.Encrypt {
			return fmt.Errorf("--account is required to store credentials")
		}
		fmt.Fprintf(out, "Secret key:  %s\n", kp.SecretKey())
		return nil
	}
	id, err := types.ParseAccountID(opts.Account)
	if err != nil {
		return err
	}
	creds := &crypto.Credentials{AccountID: id, Key: kp}

	if opts.Out != "" {
		if err := crypto.SaveToFile(opts.Out, creds); err != nil {
			return err
		}
		fmt.Fprintf(out, "Credentials: %s\n", opts.Out)
		return nil
	}

	dir := opts.Keystore
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}
		dir = filepath.Join(home, ".klingnet-sandbox", "credentials")
	}
	ks, err := keystore.New(dir)
	if err != nil {
		return err
	}
	var passphrase []byte
	if opts.Encrypt {
		if passphrase, err = readPassphrase(cmd); err != nil {
			return err
		}
	}
	if err := ks.Save(opts.Network, creds, passphrase); err != nil {
		return err
	}
	fmt.Fprintf(out, "Credentials: %s\n", ks.Path(opts.Network, id))
	return nil
}

// readPassphrase prompts twice on the terminal. SANDBOX_CREDENTIALS_PASSPHRASE
// is used instead when set, for scripts.
func readPassphrase(cmd *cobra.Command) ([]byte, error) {
	if env := os.Getenv("SANDBOX_CREDENTIALS_PASSPHRASE"); env != "" {
		return []byte(env), nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil, fmt.Errorf("--encrypt needs a terminal or SANDBOX_CREDENTIALS_PASSPHRASE")
	}
	errOut := cmd.ErrOrStderr()
	fmt.Fprint(errOut, "Passphrase: ")
	first, err := term.ReadPassword(fd)
	fmt.Fprintln(errOut)
	if err != nil {
		return nil, err
	}
	fmt.Fprint(errOut, "Repeat passphrase: ")
	second, err := term.ReadPassword(fd)
	fmt.Fprintln(errOut)
	if err != nil {
		return nil, err
	}
	if string(first) != string(second) {
		return nil, fmt.Errorf("passphrases do not match")
	}
	if len(first) == 0 {
		return nil, fmt.Errorf("empty passphrase")
	}
	return first, nil
}
