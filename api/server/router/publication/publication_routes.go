package publication

import (
	"context"
	"net/http"

	"github.com/convergeio/converge/api/server/httputils"
	"github.com/convergeio/converge/daemon"
)

func (pr *publicationRouter) getPublications(ctx context.Context, w http.ResponseWriter, r *http.Request, vars map[string]string) error {
	subject, err := httputils.Subject(ctx)
	if err != nil {
		return err
	}
	pubs, err := pr.backend.ListPublications(ctx, subject, vars["name"])
	if err != nil {
		return err
	}
	return httputils.WriteJSON(w, http.StatusOK, pubs)
}

func (pr *publicationRouter) postPublication(ctx context.Context, w http.ResponseWriter, r *http.Request, vars map[string]string) error {
	subject, err := httputils.Subject(ctx)
	if err != nil {
		return err
	}
	var body daemon.CreatePublicationRequest
	if err := httputils.ReadJSON(r, &body); err != nil {
		return err
	}
	pub, err := pr.backend.CreatePublication(ctx, subject, vars["name"], body)
	if err != nil {
		return err
	}
	return httputils.WriteJSON(w, http.StatusOK, pub)
}

func (pr *publicationRouter) getBundles(ctx context.Context, w http.ResponseWriter, r *http.Request, vars map[string]string) error {
	subject, err := httputils.Subject(ctx)
	if err != nil {
		return err
	}
	if err := httputils.ParseForm(r); err != nil {
		return err
	}
	bundles, err := pr.backend.ListBundles(ctx, subject, vars["name"], r.Form.Get("scope"), r.Form.Get("gate"))
	if err != nil {
		return err
	}
	return httputils.WriteJSON(w, http.StatusOK, bundles)
}

func (pr *publicationRouter) postBundle(ctx context.Context, w http.ResponseWriter, r *http.Request, vars map[string]string) error {
	subject, err := httputils.Subject(ctx)
	if err != nil {
		return err
	}
	var body daemon.CreateBundleRequest
	if err := httputils.ReadJSON(r, &body); err != nil {
		return err
	}
	bundle, err := pr.backend.CreateBundle(ctx, subject, vars["name"], body)
	if err != nil {
		return err
	}
	return httputils.WriteJSON(w, http.StatusOK, bundle)
}

func (pr *publicationRouter) getBundle(ctx context.Context, w http.ResponseWriter, r *http.Request, vars map[string]string) error {
	subject, err := httputils.Subject(ctx)
	if err != nil {
		return err
	}
	bundle, err := pr.backend.GetBundle(ctx, subject, vars["name"], vars["id"])
	if err != nil {
		return err
	}
	return httputils.WriteJSON(w, http.StatusOK, bundle)
}

func (pr *publicationRouter) postBundleApprove(ctx context.Context, w http.ResponseWriter, r *http.Request, vars map[string]string) error {
	subject, err := httputils.Subject(ctx)
	if err != nil {
		return err
	}
	bundle, err := pr.backend.ApproveBundle(ctx, subject, vars["name"], vars["id"])
	if err != nil {
		return err
	}
	return httputils.WriteJSON(w, http.StatusOK, bundle)
}

func (pr *publicationRouter) postBundlePin(ctx context.Context, w http.ResponseWriter, r *http.Request, vars map[string]string) error {
	subject, err := httputils.Subject(ctx)
	if err != nil {
		return err
	}
	resp, err := pr.backend.PinBundle(ctx, subject, vars["name"], vars["id"])
	if err != nil {
		return err
	}
	return httputils.WriteJSON(w, http.StatusOK, resp)
}

func (pr *publicationRouter) postBundleUnpin(ctx context.Context, w http.ResponseWriter, r *http.Request, vars map[string]string) error {
	subject, err := httputils.Subject(ctx)
	if err != nil {
		return err
	}
	resp, err := pr.backend.UnpinBundle(ctx, subject, vars["name"], vars["id"])
	if err != nil {
		return err
	}
	return httputils.WriteJSON(w, http.StatusOK, resp)
}

func (pr *publicationRouter) getPins(ctx context.Context, w http.ResponseWriter, r *http.Request, vars map[string]string) error {
	subject, err := httputils.Subject(ctx)
	if err != nil {
		return err
	}
	pins, err := pr.backend.ListPins(ctx, subject, vars["name"])
	if err != nil {
		return err
	}
	return httputils.WriteJSON(w, http.StatusOK, pins)
}

func (pr *publicationRouter) getPromotions(ctx context.Context, w http.ResponseWriter, r *http.Request, vars map[string]string) error {
	subject, err := httputils.Subject(ctx)
	if err != nil {
		return err
	}
	if err := httputils.ParseForm(r); err != nil {
		return err
	}
	promotions, err := pr.backend.ListPromotions(ctx, subject, vars["name"], r.Form.Get("scope"), r.Form.Get("to_gate"))
	if err != nil {
		return err
	}
	return httputils.WriteJSON(w, http.StatusOK, promotions)
}

func (pr *publicationRouter) postPromotion(ctx context.Context, w http.ResponseWriter, r *http.Request, vars map[string]string) error {
	subject, err := httputils.Subject(ctx)
	if err != nil {
		return err
	}
	var body daemon.CreatePromotionRequest
	if err := httputils.ReadJSON(r, &body); err != nil {
		return err
	}
	promotion, err := pr.backend.CreatePromotion(ctx, subject, vars["name"], body)
	if err != nil {
		return err
	}
	return httputils.WriteJSON(w, http.StatusOK, promotion)
}

func (pr *publicationRouter) getPromotionState(ctx context.Context, w http.ResponseWriter, r *http.Request, vars map[string]string) error {
	subject, err := httputils.Subject(ctx)
	if err != nil {
		return err
	}
	if err := httputils.ParseForm(r); err != nil {
		return err
	}
	state, err := pr.backend.PromotionState(ctx, subject, vars["name"], r.Form.Get("scope"))
	if err != nil {
		return err
	}
	return httputils.WriteJSON(w, http.StatusOK, state)
}
