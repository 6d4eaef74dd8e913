// Command veronica signs and verifies containment profiles.
//
// Usage:
//
//	veronica sign   -key <ed25519-private-key-file> -profile <profile.yaml>
//	veronica verify -pub <ed25519-public-key-file> -token <token-file> [-range <semver-range>]
//
// Keys are raw Ed25519 key bytes, base64 encoded. The signed token is
// written to stdout; verify prints the embedded profile as JSON. Exit
// code is 0 on success and 1 on any error.
package main

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/veronica-labs/veronica/pkg/config"
	"github.com/veronica-labs/veronica/pkg/signing"
)

func main() {
	// Missing .env is the normal case outside local development.
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: veronica <sign|verify> [flags]")
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "sign":
		err = runSign(os.Args[2:])
	case "verify":
		err = runVerify(os.Args[2:])
	default:
		err = fmt.Errorf("unknown command %q", os.Args[1])
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "veronica:", err)
		os.Exit(1)
	}
}

func runSign(args []string) error {
	fs := flag.NewFlagSet("sign", flag.ContinueOnError)
	keyPath := fs.String("key", "", "base64 Ed25519 private key file")
	profilePath := fs.String("profile", "", "profile YAML file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *keyPath == "" || *profilePath == "" {
		return fmt.Errorf("sign: -key and -profile are required")
	}

	key, err := readKey(*keyPath, ed25519.PrivateKeySize)
	if err != nil {
		return err
	}
	raw, err := os.ReadFile(*profilePath)
	if err != nil {
		return fmt.Errorf("read profile: %w", err)
	}
	profile, err := config.ParseProfile(raw)
	if err != nil {
		return err
	}

	token, err := signing.NewSigner(ed25519.PrivateKey(key)).Sign(profile)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func runVerify(args []string) error {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	pubPath := fs.String("pub", "", "base64 Ed25519 public key file")
	tokenPath := fs.String("token", "", "signed profile token file")
	versionRange := fs.String("range", ">=1.0.0", "accepted profile version range")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *pubPath == "" || *tokenPath == "" {
		return fmt.Errorf("verify: -pub and -token are required")
	}

	pub, err := readKey(*pubPath, ed25519.PublicKeySize)
	if err != nil {
		return err
	}
	raw, err := os.ReadFile(*tokenPath)
	if err != nil {
		return fmt.Errorf("read token: %w", err)
	}

	verifier, err := signing.NewVerifier(ed25519.PublicKey(pub),
		config.Environment().SecurityLevel, *versionRange)
	if err != nil {
		return err
	}
	profile, err := verifier.Verify(strings.TrimSpace(string(raw)))
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(profile, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func readKey(path string, wantLen int) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key: %w", err)
	}
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("decode key: %w", err)
	}
	if len(key) != wantLen {
		return nil, fmt.Errorf("key length %d, want %d", len(key), wantLen)
	}
	return key, nil
}
