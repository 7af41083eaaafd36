package object

import (
	"context"
	"io"
	"net/http"

	"github.com/convergeio/converge/api/server/httputils"
	"github.com/convergeio/converge/daemon"
	"github.com/convergeio/converge/object"
)

func (or *objectRouter) putBlob(ctx context.Context, w http.ResponseWriter, r *http.Request, vars map[string]string) error {
	subject, err := httputils.Subject(ctx)
	if err != nil {
		return err
	}
	if err := or.backend.PutBlob(ctx, subject, vars["name"], vars["id"], r.Body); err != nil {
		return err
	}
	w.WriteHeader(http.StatusCreated)
	return nil
}

func (or *objectRouter) getBlob(ctx context.Context, w http.ResponseWriter, r *http.Request, vars map[string]string) error {
	subject, err := httputils.Subject(ctx)
	if err != nil {
		return err
	}
	b, err := or.backend.GetBlob(ctx, subject, vars["name"], vars["id"])
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, err = w.Write(b)
	return err
}

func (or *objectRouter) putManifest(ctx context.Context, w http.ResponseWriter, r *http.Request, vars map[string]string) error {
	subject, err := httputils.Subject(ctx)
	if err != nil {
		return err
	}
	if err := httputils.ParseForm(r); err != nil {
		return err
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	if err := or.backend.PutManifest(ctx, subject, vars["name"], vars["id"], body, httputils.BoolValue(r, "allow_missing_blobs")); err != nil {
		return err
	}
	w.WriteHeader(http.StatusCreated)
	return nil
}

// getManifest writes the stored bytes untouched; the manifest ID is the
// digest of exactly those bytes.
func (or *objectRouter) getManifest(ctx context.Context, w http.ResponseWriter, r *http.Request, vars map[string]string) error {
	subject, err := httputils.Subject(ctx)
	if err != nil {
		return err
	}
	b, err := or.backend.GetManifest(ctx, subject, vars["name"], vars["id"])
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "application/json")
	_, err = w.Write(b)
	return err
}

func (or *objectRouter) putRecipe(ctx context.Context, w http.ResponseWriter, r *http.Request, vars map[string]string) error {
	subject, err := httputils.Subject(ctx)
	if err != nil {
		return err
	}
	if err := httputils.ParseForm(r); err != nil {
		return err
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	if err := or.backend.PutRecipe(ctx, subject, vars["name"], vars["id"], body, httputils.BoolValue(r, "allow_missing_blobs")); err != nil {
		return err
	}
	w.WriteHeader(http.StatusCreated)
	return nil
}

func (or *objectRouter) getRecipe(ctx context.Context, w http.ResponseWriter, r *http.Request, vars map[string]string) error {
	subject, err := httputils.Subject(ctx)
	if err != nil {
		return err
	}
	b, err := or.backend.GetRecipe(ctx, subject, vars["name"], vars["id"])
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "application/json")
	_, err = w.Write(b)
	return err
}

func (or *objectRouter) putSnap(ctx context.Context, w http.ResponseWriter, r *http.Request, vars map[string]string) error {
	subject, err := httputils.Subject(ctx)
	if err != nil {
		return err
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	snap, err := object.ParseSnap(body)
	if err != nil {
		return err
	}
	if err := or.backend.PutSnap(ctx, subject, vars["name"], vars["id"], snap); err != nil {
		return err
	}
	w.WriteHeader(http.StatusCreated)
	return nil
}

func (or *objectRouter) getSnap(ctx context.Context, w http.ResponseWriter, r *http.Request, vars map[string]string) error {
	subject, err := httputils.Subject(ctx)
	if err != nil {
		return err
	}
	b, err := or.backend.GetSnap(ctx, subject, vars["name"], vars["id"])
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "application/json")
	_, err = w.Write(b)
	return err
}

func (or *objectRouter) postMissing(ctx context.Context, w http.ResponseWriter, r *http.Request, vars map[string]string) error {
	subject, err := httputils.Subject(ctx)
	if err != nil {
		return err
	}
	var body daemon.MissingObjectsRequest
	if err := httputils.ReadJSON(r, &body); err != nil {
		return err
	}
	missing, err := or.backend.FindMissingObjects(ctx, subject, vars["name"], body)
	if err != nil {
		return err
	}
	return httputils.WriteJSON(w, http.StatusOK, missing)
}
