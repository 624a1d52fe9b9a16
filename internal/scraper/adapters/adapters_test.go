package adapters

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/printlot-io/printlot/internal/core"
	"github.com/printlot-io/printlot/internal/core/model"
)

func TestFeedAdapterDecodesArrayAndWrappedFeeds(t *testing.T) {
	for name, body := range map[string]string{
		"array":   `[{"vin":"1HGCM82633A004352","make":"Honda"}]`,
		"wrapped": `{"vehicles":[{"vin":"1HGCM82633A004352","make":"Honda"}]}`,
	} {
		t.Run(name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Write([]byte(body))
			}))
			defer ts.Close()

			a := NewFeedAdapter(model.DealershipConfig{Name: "Acme Honda", FeedURL: ts.URL}, ts.Client())
			rows, err := a.Produce(context.Background())
			require.NoError(t, err)
			require.Len(t, rows, 1)
			assert.Equal(t, "Honda", rows[0].Make)
		})
	}
}

func TestFeedAdapterRejectsNon200(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer ts.Close()

	a := NewFeedAdapter(model.DealershipConfig{Name: "Acme Honda", FeedURL: ts.URL}, ts.Client())
	_, err := a.Produce(context.Background())
	assert.ErrorContains(t, err, "502")
}

func TestFileAdapterReadsSlugNamedDrop(t *testing.T) {
	dir := t.TempDir()
	csv := "vin,make,model\n1HGCM82633A004352,Honda,Civic\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "acme-honda.csv"), []byte(csv), 0o644))

	a := NewFileAdapter(model.DealershipConfig{Name: "Acme Honda"}, dir)
	assert.Equal(t, "fallback", a.DataSource())

	rows, err := a.Produce(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Civic", rows[0].Model)
}

func TestFileAdapterMissingDrop(t *testing.T) {
	a := NewFileAdapter(model.DealershipConfig{Name: "Acme Honda"}, t.TempDir())
	_, err := a.Produce(context.Background())
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestFactorySelectsByFeedURL(t *testing.T) {
	factory := NewFactory(t.TempDir(), nil)

	_, isFeed := factory(model.DealershipConfig{Name: "A", FeedURL: "https://a.example.com/feed"}).(*FeedAdapter)
	assert.True(t, isFeed)

	_, isFile := factory(model.DealershipConfig{Name: "B"}).(*FileAdapter)
	assert.True(t, isFile)
}
