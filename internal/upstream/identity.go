package upstream

import (
	"context"
	"net/http"
)

// Identity is the client for the authentication service.
type Identity struct {
	client
}

func NewIdentity(baseURL string, hc *http.Client) *Identity {
	return &Identity{client: newClient("identity", baseURL, hc)}
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login exchanges a username and password for an access token: POST /login.
// It must be called with a client that does not itself attach a credential.
func (i *Identity) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	var result LoginResult
	err := i.sendJSON(ctx, http.MethodPost, "/login", credentials{Username: username, Password: password}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// UpdateContact changes a user's contact details:
// PATCH /api/usuarios/{id}/contacto.
func (i *Identity) UpdateContact(ctx context.Context, userID string, update ContactUpdate) (*User, error) {
	var user User
	err := i.sendJSON(ctx, http.MethodPatch, "/api/usuarios/"+escape(userID)+"/contacto", update, &user)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (i *Identity) User(ctx context.Context, id string) (*User, error) {
	var user User
	if err := i.getJSON(ctx, "/api/usuarios/"+escape(id), nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}
