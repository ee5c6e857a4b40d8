// FILE: chatwisp/src/cmd/chatwisp/commands/keygen.go
package commands

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"chatwisp/src/internal/auth"
	"chatwisp/src/internal/config"

	"github.com/spf13/pflag"
	"golang.org/x/term"
)

// KeygenCommand produces write/view keys, their bcrypt hashes and read tokens
type KeygenCommand struct {
	output io.Writer
	errOut io.Writer
	input  io.Reader
	// Reports whether input is an interactive terminal
	isTerminal func() bool
}

func NewKeygenCommand() *KeygenCommand {
	return &KeygenCommand{
		output:     os.Stdout,
		errOut:     os.Stderr,
		input:      os.Stdin,
		isTerminal: func() bool { return term.IsTerminal(int(os.Stdin.Fd())) },
	}
}

func (c *KeygenCommand) Execute(args []string) error {
	fs := pflag.NewFlagSet("keygen", pflag.ContinueOnError)
	fs.SetOutput(c.errOut)

	var (
		length     = fs.IntP("length", "l", 32, "Key length in bytes")
		hash       = fs.Bool("hash", false, "Print a bcrypt hash of the key for the config file")
		stdinKey   = fs.Bool("stdin", false, "Hash a key read from stdin instead of generating one")
		cost       = fs.Int("cost", 0, "bcrypt cost (default 10)")
		jwtMode    = fs.Bool("jwt", false, "Issue a signed read token instead of a key")
		signingKey = fs.String("signing-key", "", "HMAC signing key for --jwt")
		subject    = fs.String("subject", "viewer", "Token subject for --jwt")
		issuer     = fs.String("issuer", "", "Token issuer for --jwt")
		audience   = fs.String("audience", "", "Token audience for --jwt")
		ttl        = fs.Duration("ttl", 24*time.Hour, "Token lifetime for --jwt")
	)

	if err := fs.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	if *jwtMode {
		return c.issueToken(config.JWTConfig{
			SigningKey: *signingKey,
			Issuer:     *issuer,
			Audience:   *audience,
		}, *subject, *ttl)
	}

	if *stdinKey {
		key, err := c.readKey()
		if err != nil {
			return err
		}
		return c.printHash(key, *cost)
	}

	if *length < auth.MinKeyLength {
		return fmt.Errorf("key length must be at least %d bytes", auth.MinKeyLength)
	}

	b64, hexKey, err := auth.GenerateKey(*length)
	if err != nil {
		return err
	}

	fmt.Fprintln(c.output, "# Generated key")
	fmt.Fprintf(c.output, "# Base64: %s\n", b64)
	fmt.Fprintf(c.output, "# Hex:    %s\n", hexKey)
	fmt.Fprintln(c.output, "\n# Send as the x-log-key header, or set in chatwisp.toml:")
	if !*hash {
		fmt.Fprintf(c.output, "[ingest]\nwrite_key = %q\n", b64)
		return nil
	}
	return c.printHash(b64, *cost)
}

func (c *KeygenCommand) printHash(key string, cost int) error {
	hashed, err := auth.HashKey(key, cost)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.output, "[ingest]\nwrite_key = %q\n", hashed)
	fmt.Fprintf(c.output, "\n# or for readers\n[query]\nview_key = %q\n", hashed)
	return nil
}

func (c *KeygenCommand) issueToken(cfg config.JWTConfig, subject string, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("ttl must be positive")
	}
	token, err := auth.IssueToken(cfg, subject, ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.output, "# Read token, send as 'Authorization: Bearer <token>'")
	fmt.Fprintf(c.output, "# Expires: %s\n", time.Now().Add(ttl).UTC().Format(time.RFC3339))
	fmt.Fprintln(c.output, token)
	return nil
}

// Reads the key to hash, without echo when stdin is a terminal
func (c *KeygenCommand) readKey() (string, error) {
	if c.isTerminal() {
		fmt.Fprint(c.errOut, "Enter key: ")
		raw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(c.errOut)
		if err != nil {
			return "", fmt.Errorf("failed to read key: %w", err)
		}
		return string(raw), nil
	}

	line, err := bufio.NewReader(c.input).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("failed to read key: %w", err)
	}
	key := strings.TrimRight(line, "\r\n")
	if key == "" {
		return "", fmt.Errorf("no key on stdin")
	}
	return key, nil
}

func (c *KeygenCommand) Description() string {
	return "Generate write/view keys and read tokens"
}

func (c *KeygenCommand) Help() string {
	return `Keygen Command - Generate credentials for ChatWisp

Usage:
  chatwisp keygen [options]

Options:
  -l, --length <n>         Key length in bytes (default 32, min 16)
      --hash               Also print a bcrypt hash for the config file
      --stdin              Hash an existing key read from stdin
      --cost <n>           bcrypt cost (default 10)
      --jwt                Issue a signed read token
      --signing-key <key>  HMAC key matching query.jwt.signing_key
      --subject <name>     Token subject (default viewer)
      --issuer <name>      Token issuer
      --audience <name>    Token audience
      --ttl <duration>     Token lifetime (default 24h)

Examples:
  chatwisp keygen
  chatwisp keygen --hash --cost 12
  echo -n "$KEY" | chatwisp keygen --stdin
  chatwisp keygen --jwt --signing-key "$SECRET" --ttl 1h
`
}
