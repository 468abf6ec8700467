package indexclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient_BaseURL(t *testing.T) {
	assert.Equal(t, "http://localhost:8400", NewClient("localhost:8400").baseURL)
	assert.Equal(t, "https://index.example.com", NewClient("https://index.example.com/").baseURL)
}

func TestClient_NextID(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		assert.Equal(t, "/nextid", r.URL.Path)
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Write([]byte(`{"id": 7, "session": "s1", "vmid": "3"}`))
	}))
	defer srv.Close()

	id, err := NewClient(srv.URL).NextID(context.Background(), "s1", "3")
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)
	assert.Equal(t, "session=s1&vmid=3", gotQuery)

	_, err = NewClient(srv.URL).NextID(context.Background(), "", "")
	require.NoError(t, err)
	assert.Empty(t, gotQuery)
}

func TestClient_NextIDFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"status", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"id": 1}`))
		}},
		{"content type", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/plain")
			w.Write([]byte(`yarrow-index`))
		}},
		{"malformed json", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"id":`))
		}},
		{"missing id", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"session": "s"}`))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			c := NewClient(srv.URL)
			_, err := c.NextID(context.Background(), "s", "1")
			assert.Error(t, err)
			assert.Equal(t, int64(0), c.NextIDOrZero(context.Background(), "s", "1"))
		})
	}
}

func TestClient_NextIDUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	assert.Equal(t, int64(0), NewClient(addr).NextIDOrZero(context.Background(), "s", ""))
}

func TestClient_AgainstGin(t *testing.T) {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.GET("/nextid", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"id": 3, "session": c.Query("session"), "vmid": "0"})
	})
	srv := httptest.NewServer(engine)
	defer srv.Close()

	id, err := NewClient(srv.URL).NextID(context.Background(), "s", "")
	require.NoError(t, err)
	assert.Equal(t, int64(3), id)
}
