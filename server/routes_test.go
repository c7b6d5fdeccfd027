package server

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/exp/rand"

	"github.com/flowvision/flowmotion/api"
	"github.com/flowvision/flowmotion/ml"
	_ "github.com/flowvision/flowmotion/ml/backend"
	"github.com/flowvision/flowmotion/model/models/flowmotion"
)

func newTestServer(tb testing.TB) http.Handler {
	tb.Helper()

	b, err := ml.NewBackend("cpu", ml.BackendParams{})
	if err != nil {
		tb.Fatal(err)
	}
	tb.Cleanup(b.Close)

	ctx := b.NewContext()
	tb.Cleanup(ctx.Close)

	m, err := flowmotion.New(ctx, rand.New(rand.NewSource(0)), flowmotion.Config{
		Height: 64, Width: 64, MaxDisplacement: 4,
	})
	if err != nil {
		tb.Fatal(err)
	}

	return New(ctx, m).GenerateRoutes()
}

func pngBytes(tb testing.TB, c color.RGBA) []byte {
	tb.Helper()

	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.Set(x, y, c)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		tb.Fatal(err)
	}
	return buf.Bytes()
}

func TestEstimateHandler(t *testing.T) {
	h := newTestServer(t)

	body, err := json.Marshal(api.EstimateRequest{
		First:  pngBytes(t, color.RGBA{200, 100, 50, 255}),
		Second: pngBytes(t, color.RGBA{190, 110, 60, 255}),
		Levels: 2,
	})
	if err != nil {
		t.Fatal(err)
	}

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/estimate", bytes.NewReader(body)))

	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}

	var resp api.EstimateResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}

	if len(resp.Flows) != 2 {
		t.Fatalf("got %d flows, want 2", len(resp.Flows))
	}
	finest := resp.Flows[0]
	if finest.Level != 1 || finest.Height != 32 || finest.Width != 32 {
		t.Errorf("finest flow header %+v", finest)
	}
	if len(finest.DX) != 32*32 || len(finest.DY) != 32*32 {
		t.Errorf("flow payload lengths %d, %d", len(finest.DX), len(finest.DY))
	}

	if len(resp.Motions) != 3 {
		t.Fatalf("got %d motions, want 3", len(resp.Motions))
	}
}

func TestEstimateHandlerRejectsBadInput(t *testing.T) {
	h := newTestServer(t)

	for name, body := range map[string][]byte{
		"not json":       []byte("{"),
		"missing images": []byte("{}"),
		"garbage image":  mustJSON(t, api.EstimateRequest{First: []byte("x"), Second: []byte("y")}),
	} {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/estimate", bytes.NewReader(body)))
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: status %d, want 400", name, w.Code)
		}
	}
}

func mustJSON(tb testing.TB, v any) []byte {
	tb.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		tb.Fatal(err)
	}
	return b
}

func TestVersionRoute(t *testing.T) {
	h := newTestServer(t)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/version", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
}
