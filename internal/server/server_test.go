package server

import (
	"archive/zip"
	"bufio"
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"image/color"
	"image/png"
	"io"
	"math/big"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font/gofont/goregular"

	"example.com/certgate/internal/batch"
	"example.com/certgate/internal/certificate"
	"example.com/certgate/internal/common"
	"example.com/certgate/internal/config"
)

const (
	testEvent = "GDG Basra Event"
	testDate  = "2026-02-05 19:00:00"
)

func newTestServer(t *testing.T, opts Options) (*Server, *httptest.Server) {
	t.Helper()
	if opts.StorageDir == "" {
		opts.StorageDir = filepath.Join(t.TempDir(), "storage")
	}
	opts.Defaults = config.Default()
	opts.Workers = 2
	srv, err := NewServer(opts)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	t.Cleanup(func() { srv.Close() })
	router, err := NewRouter(srv)
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)
	return srv, ts
}

func templatePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, imaging.New(w, h, color.White)); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	return buf.Bytes()
}

func uploadFile(t *testing.T, baseURL, name string, data []byte) ArtifactRef {
	t.Helper()
	resp := postUpload(t, baseURL, name, data)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		t.Fatalf("upload status %d: %s", resp.StatusCode, msg)
	}
	var out struct {
		Files []ArtifactRef `json:"files"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode upload: %v", err)
	}
	if len(out.Files) != 1 || out.Files[0].Name != name {
		t.Fatalf("upload refs = %+v", out.Files)
	}
	return out.Files[0]
}

func postJSON(t *testing.T, url string, v any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func download(t *testing.T, baseURL, id string) []byte {
	t.Helper()
	resp, err := http.Get(baseURL + "/artifacts/" + id)
	if err != nil {
		t.Fatalf("GET artifact: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("artifact status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	return data
}

func smallLayout() map[string]any {
	return map[string]any{
		"name":   map[string]int{"x": 40, "y": 40},
		"qr":     map[string]int{"x": 280, "y": 180},
		"qrSize": 120,
	}
}

func TestGenerateBundle(t *testing.T) {
	keyPEM, certPEM := generateTestSigner(t)
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "signer.key")
	certPath := filepath.Join(dir, "signer.crt")
	os.WriteFile(keyPath, keyPEM, 0o600)
	os.WriteFile(certPath, certPEM, 0o644)

	_, ts := newTestServer(t, Options{ManifestSigning: ManifestSigningOptions{PrivateKeyPath: keyPath, CertificatePath: certPath}})
	tpl := uploadFile(t, ts.URL, "template.png", templatePNG(t, 400, 300))
	names := uploadFile(t, ts.URL, "attendees.csv", []byte("Name\nJohn Doe\n,\nJane Smith\nJane Smith\n"))

	resp := postJSON(t, ts.URL+"/generate", map[string]any{
		"event":     testEvent,
		"timestamp": testDate,
		"template":  tpl.ID,
		"names":     names.ID,
		"format":    "png",
		"font":      map[string]any{"size": 24},
		"layout":    smallLayout(),
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		t.Fatalf("generate status %d: %s", resp.StatusCode, msg)
	}
	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	rep := out.Report
	if rep.Total != 4 || rep.Succeeded != 3 || rep.Failed != 1 || !rep.Signed {
		t.Fatalf("report = %+v", rep)
	}
	if rep.Results[2].File != "Jane Smith.png" || rep.Results[3].File != "Jane Smith_2.png" {
		t.Fatalf("files = %s, %s", rep.Results[2].File, rep.Results[3].File)
	}

	var bundle *ArtifactRef
	kinds := map[string]int{}
	for i, a := range out.Artifacts {
		kinds[a.Kind]++
		if a.Kind == "bundle" {
			bundle = &out.Artifacts[i]
		}
	}
	if kinds["certificate"] != 3 || kinds["bundle"] != 1 || kinds["report"] != 1 || kinds["summary"] != 1 || bundle == nil {
		t.Fatalf("artifacts = %+v", out.Artifacts)
	}

	zipPath := filepath.Join(t.TempDir(), "bundle.zip")
	if err := os.WriteFile(zipPath, download(t, ts.URL, bundle.ID), 0o644); err != nil {
		t.Fatalf("write bundle: %v", err)
	}
	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		t.Fatalf("open bundle: %v", err)
	}
	zr.Close()
	check, err := batch.VerifyBundle(zipPath, certPEM)
	if err != nil {
		t.Fatalf("VerifyBundle: %v", err)
	}
	if !check.Signed || len(check.Manifest.Items) != 3 {
		t.Fatalf("check = %+v", check)
	}
}

func TestGenerateStream(t *testing.T) {
	_, ts := newTestServer(t, Options{})
	tpl := uploadFile(t, ts.URL, "template.png", templatePNG(t, 400, 300))
	resp := postJSON(t, ts.URL+"/generate?stream=true", map[string]any{
		"event":     testEvent,
		"timestamp": testDate,
		"template":  tpl.ID,
		"namesText": "John Doe\nJane Smith\n",
		"archive":   false,
		"layout":    smallLayout(),
		"font":      map[string]any{"size": 24},
	})
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "application/x-ndjson" {
		t.Fatalf("content type = %s", ct)
	}
	var types []string
	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 1<<20), 1<<20)
	for sc.Scan() {
		var rec struct {
			Type   string        `json:"type"`
			Report *batch.Report `json:"report"`
		}
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			t.Fatalf("decode %s: %v", sc.Text(), err)
		}
		types = append(types, rec.Type)
		if rec.Type == "summary" && (rec.Report == nil || rec.Report.Succeeded != 2 || rec.Report.Archive != "") {
			t.Fatalf("summary report = %+v", rec.Report)
		}
	}
	if strings.Join(types, ",") != "start,result,result,summary" {
		t.Fatalf("records = %v", types)
	}
}

func TestGenerateRejectsBadRequests(t *testing.T) {
	_, ts := newTestServer(t, Options{})
	tpl := uploadFile(t, ts.URL, "template.png", templatePNG(t, 400, 300))
	cases := map[string]map[string]any{
		"no event":     {"template": tpl.ID, "namesText": "John"},
		"no template":  {"event": testEvent, "namesText": "John"},
		"no names":     {"event": testEvent, "template": tpl.ID, "layout": smallLayout()},
		"bad format":   {"event": testEvent, "template": tpl.ID, "namesText": "John", "format": "docx"},
		"qr overflow":  {"event": testEvent, "template": tpl.ID, "namesText": "John", "layout": map[string]any{"qr": map[string]int{"x": 350, "y": 250}}},
		"unknown font": {"event": testEvent, "template": tpl.ID, "namesText": "John", "font": map[string]any{"family": "Comic"}, "layout": smallLayout()},
		"publish":      {"event": testEvent, "template": tpl.ID, "namesText": "John", "layout": smallLayout(), "publish": true},
		"names kind":   {"event": testEvent, "template": tpl.ID, "names": tpl.ID, "layout": smallLayout()},
	}
	for name, body := range cases {
		resp := postJSON(t, ts.URL+"/generate", body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: status %d", name, resp.StatusCode)
		}
	}
}

func postUpload(t *testing.T, baseURL, name string, data []byte) *http.Response {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	part.Write(data)
	mw.Close()
	resp, err := http.Post(baseURL+"/upload", mw.FormDataContentType(), &body)
	if err != nil {
		t.Fatalf("POST /upload: %v", err)
	}
	return resp
}

func TestUploadClassifiesAndValidates(t *testing.T) {
	_, ts := newTestServer(t, Options{})
	data := templatePNG(t, 200, 100)
	tpl := uploadFile(t, ts.URL, "template.png", data)
	if tpl.Kind != "template" || tpl.SHA256 != common.Sha256OfBytes(data) {
		t.Fatalf("template ref = %+v", tpl)
	}
	if names := uploadFile(t, ts.URL, "names.csv", []byte("Name\nAda\n")); names.Kind != "names" {
		t.Fatalf("names ref = %+v", names)
	}
	if font := uploadFile(t, ts.URL, "Go.ttf", goregular.TTF); font.Kind != "font" {
		t.Fatalf("font ref = %+v", font)
	}

	cases := []struct {
		name   string
		data   []byte
		status int
	}{
		{"broken.png", []byte("not a png"), http.StatusBadRequest},
		{"broken.ttf", []byte("not a font"), http.StatusBadRequest},
		{"tool.exe", []byte{0x4d, 0x5a}, http.StatusUnsupportedMediaType},
	}
	for _, tc := range cases {
		resp := postUpload(t, ts.URL, tc.name, tc.data)
		resp.Body.Close()
		if resp.StatusCode != tc.status {
			t.Errorf("%s: status %d, want %d", tc.name, resp.StatusCode, tc.status)
		}
	}
}

func TestPreviewAndVerify(t *testing.T) {
	_, ts := newTestServer(t, Options{})
	tpl := uploadFile(t, ts.URL, "template.png", templatePNG(t, 1000, 700))
	resp := postJSON(t, ts.URL+"/preview", map[string]any{
		"template":  tpl.ID,
		"attendee":  "Jane Smith",
		"event":     testEvent,
		"timestamp": testDate,
		"layout": map[string]any{
			"qr":     map[string]int{"x": 620, "y": 320},
			"qrSize": 320,
		},
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "image/png" {
		t.Fatalf("preview status %d %s", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
	want := certificate.Digest("Jane Smith", testEvent, testDate)
	if got := resp.Header.Get("X-Certificate-Digest"); got != want {
		t.Fatalf("digest header = %s", got)
	}
	img, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read preview: %v", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, _ := mw.CreateFormFile("image", "certificate.png")
	part.Write(img)
	mw.Close()
	vresp, err := http.Post(ts.URL+"/verify", mw.FormDataContentType(), &body)
	if err != nil {
		t.Fatalf("POST /verify: %v", err)
	}
	defer vresp.Body.Close()
	if vresp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(vresp.Body)
		t.Fatalf("verify status %d: %s", vresp.StatusCode, msg)
	}
	var out verifyResponse
	if err := json.NewDecoder(vresp.Body).Decode(&out); err != nil {
		t.Fatalf("decode verify: %v", err)
	}
	if !out.Valid || out.Payload.Name != "Jane Smith" || out.Payload.Hash != want {
		t.Fatalf("verify = %+v", out)
	}

	forged, _ := certificate.Payload{Hash: want, Name: "Someone Else", Event: testEvent, Date: testDate}.Marshal()
	jresp := postJSON(t, ts.URL+"/verify", map[string]string{"payload": string(forged)})
	defer jresp.Body.Close()
	var forgedOut verifyResponse
	if err := json.NewDecoder(jresp.Body).Decode(&forgedOut); err != nil {
		t.Fatalf("decode forged: %v", err)
	}
	if forgedOut.Valid {
		t.Fatalf("forged payload accepted")
	}
}

func TestFontsMetricsHealthAndUI(t *testing.T) {
	_, ts := newTestServer(t, Options{})
	for path, want := range map[string]string{
		"/fonts":   `"Amiri"`,
		"/healthz": `"ok"`,
		"/":        "<html",
	} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		data, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK || !strings.Contains(string(data), want) {
			t.Fatalf("GET %s = %d %q", path, resp.StatusCode, data)
		}
	}
	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(data), `certgate_http_requests_total{code="200",route="fonts"} 1`) {
		t.Fatalf("metrics missing request counter:\n%s", data)
	}
	if r, _ := http.Get(ts.URL + "/artifacts/missing"); r.StatusCode != http.StatusNotFound {
		t.Fatalf("missing artifact status %d", r.StatusCode)
	}
	if r, _ := http.Get(ts.URL + "/nope.js"); r.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown ui path status %d", r.StatusCode)
	}
}

func TestUIRevalidatesWithETag(t *testing.T) {
	_, ts := newTestServer(t, Options{})
	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	resp.Body.Close()
	etag := resp.Header.Get("ETag")
	if etag == "" {
		t.Fatal("no ETag on index")
	}
	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/", nil)
	req.Header.Set("If-None-Match", etag)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("conditional GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotModified {
		t.Fatalf("conditional GET status %d", resp.StatusCode)
	}
}

func TestCloseRemovesWorkspaces(t *testing.T) {
	storage := filepath.Join(t.TempDir(), "storage")
	srv, ts := newTestServer(t, Options{StorageDir: storage})
	tpl := uploadFile(t, ts.URL, "template.png", templatePNG(t, 400, 300))
	resp := postJSON(t, ts.URL+"/generate", map[string]any{
		"event": testEvent, "template": tpl.ID, "namesText": "John Doe", "layout": smallLayout(), "font": map[string]any{"size": 24},
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("generate status %d", resp.StatusCode)
	}
	if err := srv.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	entries, err := os.ReadDir(storage)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("storage not cleaned: %v", entries)
	}
}

func generateTestSigner(t *testing.T) ([]byte, []byte) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	now := time.Now().UTC()
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "Test Manifest Signer", Organization: []string{"certgate"}},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("CreateCertificate: %v", err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	return keyPEM, certPEM
}

func TestVerifyConsultsLedger(t *testing.T) {
	ledger := filepath.Join(t.TempDir(), "issued.jsonl")
	_, ts := newTestServer(t, Options{LedgerPath: ledger})
	tpl := uploadFile(t, ts.URL, "template.png", templatePNG(t, 400, 300))
	resp := postJSON(t, ts.URL+"/generate", map[string]any{
		"event":     testEvent,
		"timestamp": testDate,
		"template":  tpl.ID,
		"namesText": "John Doe\n",
		"archive":   false,
		"format":    "png",
		"layout":    smallLayout(),
		"font":      map[string]any{"size": 24},
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("generate status %d", resp.StatusCode)
	}

	check := func(name string) verifyResponse {
		t.Helper()
		payload, _ := certificate.NewPayload(name, testEvent, testDate).Marshal()
		resp := postJSON(t, ts.URL+"/verify", map[string]string{"payload": string(payload)})
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("verify %s: status %d", name, resp.StatusCode)
		}
		var out verifyResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			t.Fatalf("decode verify: %v", err)
		}
		return out
	}
	if out := check("John Doe"); !out.Valid || out.Issued == nil || !*out.Issued {
		t.Fatalf("issued certificate = %+v", out)
	}
	// digest is self-consistent but was never produced by this server
	if out := check("Mallory"); !out.Valid || out.Issued == nil || *out.Issued {
		t.Fatalf("unissued certificate = %+v", out)
	}
}
