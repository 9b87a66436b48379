package stdio

import (
	"errors"
	"os/user"
)

// UserProvider names the local principal behind a stdio peer. The name owns
// the implicit session and appears in logs; stdio carries no credential.
type UserProvider interface {
	CurrentUserID() (string, error)
}

// UserFunc adapts a function to UserProvider.
type UserFunc func() (string, error)

func (f UserFunc) CurrentUserID() (string, error) { return f() }

// StaticUser is a fixed UserProvider.
type StaticUser string

func (s StaticUser) CurrentUserID() (string, error) { return string(s), nil }

// osUser prefers the login name and falls back to the numeric uid.
var osUser = UserFunc(func() (string, error) {
	u, err := user.Current()
	switch {
	case err != nil:
		return "", err
	case u.Username != "":
		return u.Username, nil
	case u.Uid != "":
		return u.Uid, nil
	}
	return "", errors.New("current user has neither name nor uid")
})
