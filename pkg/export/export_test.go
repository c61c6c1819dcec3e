package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/tinyfeat/pkg/matrix"
	"github.com/nicktill/tinyfeat/pkg/storage"
	"github.com/nicktill/tinyfeat/pkg/storage/memory"
	"github.com/nicktill/tinyfeat/pkg/storage/storetest"
)

func TestJSONRoundTrip(t *testing.T) {
	m := storetest.Fixture(t)

	buf := &bytes.Buffer{}
	require.NoError(t, WriteJSON(buf, "", m))

	got, result, err := ReadJSON(buf)
	require.NoError(t, err)
	assert.Empty(t, result.Warnings)
	assert.Equal(t, 6, result.Results)
	assert.True(t, matrix.Equal(m, got), "JSON round trip changed the matrix")

	// The kept -Inf special value survives.
	c, ok := got.Lookup(12, 7)
	require.True(t, ok)
	assert.True(t, math.IsInf(c.Value, -1))
	assert.Equal(t, matrix.ReasonSpecialValue, c.Reason)
}

func TestFloatJSON(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{1.5, "1.5"},
		{math.NaN(), "null"},
		{math.Inf(1), `"+Inf"`},
		{math.Inf(-1), `"-Inf"`},
		{1e-300, "1e-300"},
	}
	for _, tt := range tests {
		b, err := json.Marshal(Float(tt.in))
		require.NoError(t, err)
		assert.Equal(t, tt.want, string(b))

		var back Float
		require.NoError(t, json.Unmarshal(b, &back))
		if math.IsNaN(tt.in) {
			assert.True(t, math.IsNaN(float64(back)))
		} else {
			assert.Equal(t, tt.in, float64(back))
		}
	}

	var f Float
	require.NoError(t, json.Unmarshal([]byte(`"NaN"`), &f))
	assert.True(t, math.IsNaN(float64(f)))
	assert.Error(t, json.Unmarshal([]byte(`"lots"`), &f))
}

func TestReadJSON_DropsUnknownFields(t *testing.T) {
	doc := `{
	  "metadata": {"format": "json", "version": "1.0"},
	  "time_series": [
	    {"id": 1, "name": "a", "length": 2, "data": [1, 2], "sampling_rate": 100, "units": "mV"}
	  ],
	  "operations": [
	    {"id": 5, "name": "mean", "master": "distribution", "output": "mean", "code_string": "DN_Mean"}
	  ],
	  "results": [
	    {"ts_id": 1, "op_id": 5, "value": 1.5, "quality": "good", "calc_time": 0.01}
	  ]
	}`

	m, result, err := ReadJSON(strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, result.Warnings, 2)
	assert.Contains(t, result.Warnings[0], "sampling_rate")
	assert.Contains(t, result.Warnings[0], "units")
	assert.Contains(t, result.Warnings[1], "code_string")

	c, ok := m.Lookup(1, 5)
	require.True(t, ok)
	assert.Equal(t, matrix.Good, c.Quality)
	assert.Equal(t, 1.5, c.Value)
}

func TestReadJSON_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"not json", `{`},
		{"duplicate series", `{"time_series":[{"id":1,"length":0,"data":[]},{"id":1,"length":0,"data":[]}],"operations":[{"id":1}]}`},
		{"length mismatch", `{"time_series":[{"id":1,"length":3,"data":[1]}],"operations":[{"id":1}]}`},
		{"unknown series in result", `{"time_series":[{"id":1,"length":0,"data":[]}],"operations":[{"id":1}],"results":[{"ts_id":2,"op_id":1,"quality":"good","value":1}]}`},
		{"unknown op in result", `{"time_series":[{"id":1,"length":0,"data":[]}],"operations":[{"id":1}],"results":[{"ts_id":1,"op_id":9,"quality":"good","value":1}]}`},
		{"duplicate result", `{"time_series":[{"id":1,"length":0,"data":[]}],"operations":[{"id":1}],"results":[{"ts_id":1,"op_id":1,"quality":"good","value":1},{"ts_id":1,"op_id":1,"quality":"good","value":2}]}`},
		{"good with null value", `{"time_series":[{"id":1,"length":0,"data":[]}],"operations":[{"id":1}],"results":[{"ts_id":1,"op_id":1,"quality":"good","value":null}]}`},
		{"good without value", `{"time_series":[{"id":1,"length":0,"data":[]}],"operations":[{"id":5}],"results":[{"ts_id":1,"op_id":5,"quality":"good"}]}`},
		{"bad quality", `{"time_series":[{"id":1,"length":0,"data":[]}],"operations":[{"id":1}],"results":[{"ts_id":1,"op_id":1,"quality":"great","value":1}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := ReadJSON(strings.NewReader(tt.doc))
			assert.ErrorIs(t, err, ErrInvalidDocument)
		})
	}
}

func TestWriteCSV(t *testing.T) {
	m := storetest.Fixture(t)
	buf := &bytes.Buffer{}
	require.NoError(t, WriteCSV(buf, m))

	records, err := csv.NewReader(buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4)

	assert.Equal(t, []string{"ts_id", "ts_name", "distribution.mean", "distribution.std", "ac_first_zero", "hist_entropy"}, records[0])
	assert.Equal(t, "11", records[1][0])
	assert.Equal(t, "0", records[1][2])
	assert.Equal(t, "error", records[1][4])
	assert.Equal(t, "", records[1][5])
	assert.Equal(t, "error", records[3][2])
}

func TestImporterAndExporter(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	buf := &bytes.Buffer{}
	require.NoError(t, WriteJSON(buf, "", storetest.Fixture(t)))

	result, err := NewImporter(store).ImportFromJSON(ctx, buf)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Rows)

	out := &bytes.Buffer{}
	exp, err := NewExporter(store).Export(ctx, out, result.Handle, "json")
	require.NoError(t, err)
	assert.Equal(t, 6, exp.Results)

	var doc Document
	require.NoError(t, json.Unmarshal(out.Bytes(), &doc))
	assert.Equal(t, result.Handle, doc.Metadata.Handle)
	assert.Equal(t, FormatVersion, doc.Metadata.Version)
	assert.Len(t, doc.TimeSeries, 3)
	assert.Len(t, doc.Operations, 4)

	_, err = NewExporter(store).Export(ctx, out, result.Handle, "xml")
	assert.Error(t, err)
}

func TestHandler(t *testing.T) {
	store := memory.New()
	h := NewHandler(store)
	router := mux.NewRouter()
	router.HandleFunc("/v1/snapshots/{handle}/export", h.HandleExport).Methods(http.MethodGet)
	router.HandleFunc("/v1/import", h.HandleImport).Methods(http.MethodPost)

	buf := &bytes.Buffer{}
	require.NoError(t, WriteJSON(buf, "", storetest.Fixture(t)))

	req := httptest.NewRequest(http.MethodPost, "/v1/import", buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var result ImportResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/snapshots/"+string(result.Handle)+"/export?format=csv", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(rec.Body.String(), "ts_id,ts_name"))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/snapshots/"+string(storage.NewHandle())+"/export", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/snapshots/nope/export", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/v1/import", strings.NewReader(`{"time_series":[{"id":-1}]}`))
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReadSeries(t *testing.T) {
	in := `[
		{"id": 1, "name": "a.dat", "data": [1, 2, "NaN"], "source": "lab"},
		{"id": 2, "name": "b.dat", "keywords": ["x"], "length": 2, "data": [3, 4]}
	]`
	rows, warnings, err := ReadSeries(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 3, rows[0].Length)
	assert.True(t, math.IsNaN(rows[0].Data[2]))
	assert.Equal(t, []string{"x"}, rows[1].Keywords)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "source")

	_, _, err = ReadSeries(strings.NewReader(`[{"id": 1, "data": [1]}]`))
	assert.ErrorIs(t, err, ErrInvalidDocument)

	_, _, err = ReadSeries(strings.NewReader(`{"id": 1}`))
	assert.ErrorIs(t, err, ErrInvalidDocument)
}
