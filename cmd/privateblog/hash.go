package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"
)

// runHashPassword reads a password and prints its bcrypt hash. On a
// terminal the password is read twice without echo; otherwise the first
// line of in is used, so the command works in scripts.
func runHashPassword(in *os.File, out io.Writer) error {
	var password []byte
	if fd := int(in.Fd()); term.IsTerminal(fd) {
		first, err := prompt(fd, "Password: ")
		if err != nil {
			return err
		}
		second, err := prompt(fd, "Repeat password: ")
		if err != nil {
			return err
		}
		if string(first) != string(second) {
			return errors.New("passwords do not match")
		}
		password = first
	} else {
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("read password: %w", err)
		}
		password = []byte(strings.TrimRight(line, "\r\n"))
	}

	hash, err := hashPassword(password)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, hash)
	return nil
}

func prompt(fd int, label string) ([]byte, error) {
	fmt.Fprint(os.Stderr, label)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("read password: %w", err)
	}
	return b, nil
}

func hashPassword(password []byte) (string, error) {
	if len(password) == 0 {
		return "", errors.New("password must not be empty")
	}
	hash, err := bcrypt.GenerateFromPassword(password, bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}
