package user

import (
	"context"
	"net/http"

	"github.com/convergeio/converge/api/server/httputils"
	"github.com/convergeio/converge/daemon"
)

func (r *userRouter) getUsers(ctx context.Context, w http.ResponseWriter, req *http.Request, vars map[string]string) error {
	subject, err := httputils.Subject(ctx)
	if err != nil {
		return err
	}
	users, err := r.backend.ListUsers(subject)
	if err != nil {
		return err
	}
	return httputils.WriteJSON(w, http.StatusOK, users)
}

func (r *userRouter) postUser(ctx context.Context, w http.ResponseWriter, req *http.Request, vars map[string]string) error {
	subject, err := httputils.Subject(ctx)
	if err != nil {
		return err
	}
	var body daemon.CreateUserRequest
	if err := httputils.ReadJSON(req, &body); err != nil {
		return err
	}
	user, err := r.backend.CreateUser(ctx, subject, body)
	if err != nil {
		return err
	}
	return httputils.WriteJSON(w, http.StatusOK, user)
}

func (r *userRouter) getUserTokens(ctx context.Context, w http.ResponseWriter, req *http.Request, vars map[string]string) error {
	subject, err := httputils.Subject(ctx)
	if err != nil {
		return err
	}
	tokens, err := r.backend.ListTokensForUser(subject, vars["id"])
	if err != nil {
		return err
	}
	return httputils.WriteJSON(w, http.StatusOK, tokens)
}

func (r *userRouter) postUserToken(ctx context.Context, w http.ResponseWriter, req *http.Request, vars map[string]string) error {
	subject, err := httputils.Subject(ctx)
	if err != nil {
		return err
	}
	var body daemon.CreateTokenRequest
	if err := httputils.ReadJSON(req, &body); err != nil {
		return err
	}
	tok, err := r.backend.CreateTokenForUser(ctx, subject, vars["id"], body)
	if err != nil {
		return err
	}
	return httputils.WriteJSON(w, http.StatusOK, tok)
}

func (r *userRouter) getTokens(ctx context.Context, w http.ResponseWriter, req *http.Request, vars map[string]string) error {
	subject, err := httputils.Subject(ctx)
	if err != nil {
		return err
	}
	return httputils.WriteJSON(w, http.StatusOK, r.backend.ListTokens(subject))
}

func (r *userRouter) postToken(ctx context.Context, w http.ResponseWriter, req *http.Request, vars map[string]string) error {
	subject, err := httputils.Subject(ctx)
	if err != nil {
		return err
	}
	var body daemon.CreateTokenRequest
	if err := httputils.ReadJSON(req, &body); err != nil {
		return err
	}
	tok, err := r.backend.CreateToken(ctx, subject, body)
	if err != nil {
		return err
	}
	return httputils.WriteJSON(w, http.StatusOK, tok)
}

func (r *userRouter) postTokenRevoke(ctx context.Context, w http.ResponseWriter, req *http.Request, vars map[string]string) error {
	subject, err := httputils.Subject(ctx)
	if err != nil {
		return err
	}
	resp, err := r.backend.RevokeToken(ctx, subject, vars["id"])
	if err != nil {
		return err
	}
	return httputils.WriteJSON(w, http.StatusOK, resp)
}
