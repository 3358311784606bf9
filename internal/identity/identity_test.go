package identity

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ashureev/rolecall/internal/domain"
)

type recordingGateway struct {
	upserted map[int64]domain.Profile
	err      error
}

func (g *recordingGateway) UpsertUser(_ context.Context, userID int64, p domain.Profile) error {
	if g.err != nil {
		return g.err
	}
	if g.upserted == nil {
		g.upserted = make(map[int64]domain.Profile)
	}
	g.upserted[userID] = p
	return nil
}

func (g *recordingGateway) IncrementUserCounters(context.Context, int64, domain.Counters) error {
	return nil
}

func (g *recordingGateway) GetUserCounters(context.Context, int64) (domain.Counters, error) {
	return domain.Counters{}, nil
}

func (g *recordingGateway) HasAchievement(context.Context, int64, string) (bool, error) {
	return false, nil
}

func (g *recordingGateway) UnlockAchievement(context.Context, int64, string) (bool, error) {
	return false, nil
}

func TestFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws/chats/5?user_id=42&username=@bea&first_name=Bea", nil)
	u, err := FromRequest(r)
	if err != nil {
		t.Fatalf("FromRequest failed: %v", err)
	}
	if u.ID != 42 || u.Profile.Username != "bea" || u.Profile.FirstName != "Bea" {
		t.Fatalf("unexpected user %+v", u)
	}

	r = httptest.NewRequest(http.MethodGet, "/?user_id=1", nil)
	r.Header.Set(UserIDHeader, "7")
	r.Header.Set(UsernameHeader, "not valid!")
	u, err = FromRequest(r)
	if err != nil || u.ID != 7 || u.Profile.Username != "" {
		t.Fatalf("expected header id and dropped username, got %+v %v", u, err)
	}

	for _, target := range []string{"/", "/?user_id=abc", "/?user_id=0"} {
		if _, err := FromRequest(httptest.NewRequest(http.MethodGet, target, nil)); !errors.Is(err, ErrMissingUser) {
			t.Fatalf("%s: expected ErrMissingUser, got %v", target, err)
		}
	}
}

func TestMiddleware(t *testing.T) {
	gw := &recordingGateway{}
	var seen User
	h := Middleware(gw)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/?user_id=9&first_name=Cal", nil))
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if seen.ID != 9 || gw.upserted[9].FirstName != "Cal" {
		t.Fatalf("expected identity to be injected and recorded, got %+v %+v", seen, gw.upserted)
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}

	gw.err = errors.New("db down")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/?user_id=9", nil))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
}
