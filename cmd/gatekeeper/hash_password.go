package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gatekeeper/cmd/security/password"
)

// HashPasswordCmd prints an argon2id hash, or a full GK_ADMIN_USERS entry when
// a user is given. The password is read from stdin so it stays out of shell history.
type HashPasswordCmd struct {
	User string `help:"Print a user:role:hash entry for this user."`
	Role string `help:"Role of the entry." default:"admin" enum:"admin,editor"`
}

func (c *HashPasswordCmd) Run() error {
	return c.run(os.Stdin, os.Stdout)
}

func (c *HashPasswordCmd) run(in io.Reader, out io.Writer) error {
	pw, err := readLine(bufio.NewScanner(in))
	if err != nil {
		return err
	}
	cfg, err := password.FromEnv()
	if err != nil {
		return err
	}
	if err := cfg.Validate(pw); err != nil {
		return err
	}
	hash, err := cfg.Hash(pw)
	if err != nil {
		return err
	}
	if c.User == "" {
		_, err = fmt.Fprintln(out, hash)
		return err
	}
	_, err = fmt.Fprintf(out, "%s:%s:%s\n", strings.ToLower(strings.TrimSpace(c.User)), c.Role, hash)
	return err
}

func readLine(sc *bufio.Scanner) (string, error) {
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return "", err
		}
		return "", errors.New("no input on stdin")
	}
	return strings.TrimRight(sc.Text(), "\r"), nil
}
