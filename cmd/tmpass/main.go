// Command tmpass is the operator's password utility.
//
// Usage:
//
//	tmpass encode [password]   print base64(salt:password)
//	tmpass decode <encoded>    reverse encode ("********" for foreign input)
//	tmpass mask [password]     print the dashboard mask
//	tmpass hash [password]     print a bcrypt hash for manual seeding
//	tmpass check [password]    report the password reset strength rules
//
// When the password argument is omitted it is read from the terminal
// without echo, or from the first line of stdin when stdin is not a terminal.
package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/DukeRupert/tmportal/internal/domain"
	"github.com/DukeRupert/tmportal/internal/obfuscate"
	"github.com/DukeRupert/tmportal/internal/service"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"
)

const usage = `usage: tmpass <command> [value]

commands:
  encode [password]   print base64(salt:password)
  decode <encoded>    reverse encode
  mask [password]     print the dashboard mask
  hash [password]     print a bcrypt hash
  check [password]    report the strength rules
`

var errUsage = errors.New("invalid usage")

// Test seams.
var (
	readPassword = term.ReadPassword
	isTerminal   = term.IsTerminal
)

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprint(os.Stderr, usage)
			os.Exit(2)
		}
		fmt.Fprintln(os.Stderr, "tmpass:", err)
		os.Exit(1)
	}
}

func run(args []string, stdin *os.File, stdout, stderr io.Writer) error {
	if len(args) == 0 || len(args) > 2 {
		return errUsage
	}
	cmd := args[0]

	value := func(prompt string) (string, error) {
		if len(args) == 2 {
			return args[1], nil
		}
		return readSecret(stdin, stderr, prompt)
	}

	switch cmd {
	case "encode":
		pw, err := value("Password: ")
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, obfuscate.Encode(pw))

	case "decode":
		encoded, err := value("Encoded: ")
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, obfuscate.Decode(strings.TrimSpace(encoded)))

	case "mask":
		pw, err := value("Password: ")
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, obfuscate.Mask(pw))

	case "hash":
		pw, err := value("Password: ")
		if err != nil {
			return err
		}
		hash, err := hashPassword(pw)
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, hash)

	case "check":
		pw, err := value("Password: ")
		if err != nil {
			return err
		}
		return writeStrength(stdout, domain.CheckPasswordStrength(pw))

	case "help", "-h", "--help":
		fmt.Fprint(stdout, usage)

	default:
		return errUsage
	}
	return nil
}

// readSecret reads one value without echo from a terminal, or the first line
// of piped input.
func readSecret(stdin *os.File, prompt io.Writer, label string) (string, error) {
	fd := int(stdin.Fd())
	if isTerminal(fd) {
		fmt.Fprint(prompt, label)
		b, err := readPassword(fd)
		fmt.Fprintln(prompt)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(b), nil
	}
	return readLine(stdin)
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func hashPassword(pw string) (string, error) {
	if len(pw) < service.MinPasswordLength {
		return "", fmt.Errorf("password must be at least %d characters", service.MinPasswordLength)
	}
	if len(pw) > service.MaxPasswordLength {
		return "", fmt.Errorf("password must be at most %d bytes", service.MaxPasswordLength)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pw), service.BcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// writeStrength prints one line per rule. A weak password is an error so
// scripts can test the exit status.
func writeStrength(w io.Writer, s domain.PasswordStrength) error {
	rules := []struct {
		name string
		ok   bool
	}{
		{"at least 8 characters", s.MinLength},
		{"an uppercase letter", s.Upper},
		{"a lowercase letter", s.Lower},
		{"a number", s.Digit},
		{"a special character", s.Special},
	}
	for _, rule := range rules {
		mark := "ok  "
		if !rule.ok {
			mark = "FAIL"
		}
		fmt.Fprintf(w, "%s %s\n", mark, rule.name)
	}
	if !s.OK() {
		return errors.New("password too weak")
	}
	return nil
}
