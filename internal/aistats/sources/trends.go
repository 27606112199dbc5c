package sources

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	bigQueryEndpoint = "https://bigquery.googleapis.com/bigquery/v2"
	bigQueryScope    = "https://www.googleapis.com/auth/bigquery.readonly"
	googleTokenURI   = "https://oauth2.googleapis.com/token"
	jwtBearerGrant   = "urn:ietf:params:oauth:grant-type:jwt-bearer"
	trendsConfidence = 0.85

	// bqWaitMs is how long each jobs.query or getQueryResults call blocks
	// server-side; bqMaxPolls bounds the follow-up calls.
	bqWaitMs   = 10000
	bqMaxPolls = 3
)

const trendsQuery = "SELECT term, MIN(rank) AS best_rank, ANY_VALUE(country_name) AS country_name, " +
	"MAX(week) AS week, MAX(refresh_date) AS refresh_date " +
	"FROM `bigquery-public-data.google_trends.international_top_terms` " +
	"WHERE refresh_date = (SELECT MAX(refresh_date) FROM `bigquery-public-data.google_trends.international_top_terms`) " +
	"AND country_code = @country " +
	"GROUP BY term ORDER BY best_rank LIMIT @limit"

// QueryError is returned when the warehouse rejects a query job (invalid
// SQL, quota, permissions). Unlike other source failures it is surfaced to
// pipeline callers.
type QueryError struct {
	StatusCode int
	Reason     string
	Message    string
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("warehouse query rejected (%d %s): %s", e.StatusCode, e.Reason, e.Message)
}

// ServiceAccount is the subset of a Google service-account key file used
// to mint access tokens.
type ServiceAccount struct {
	Type         string `json:"type"`
	ProjectID    string `json:"project_id"`
	PrivateKeyID string `json:"private_key_id"`
	PrivateKey   string `json:"private_key"`
	ClientEmail  string `json:"client_email"`
	TokenURI     string `json:"token_uri"`
}

// TrendsClient queries the public Google Trends dataset in BigQuery using a
// service-account JWT exchanged for an OAuth access token.
type TrendsClient struct {
	client   *http.Client
	creds    Credentials
	endpoint string
	now      func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

// NewTrendsClient creates a client. An empty endpoint uses the public API.
func NewTrendsClient(client *http.Client, creds Credentials, endpoint string, now func() time.Time) *TrendsClient {
	if endpoint == "" {
		endpoint = bigQueryEndpoint
	}
	if now == nil {
		now = time.Now
	}
	return &TrendsClient{
		client:   client,
		creds:    creds,
		endpoint: strings.TrimRight(endpoint, "/"),
		now:      now,
	}
}

// Fetch returns the current top search terms for Params["country"]
// (default GB). Missing credentials yield no candidates and no error.
func (t *TrendsClient) Fetch(ctx context.Context, src Source) ([]Candidate, error) {
	sa, err := t.serviceAccount()
	if err != nil {
		return nil, err
	}
	if sa == nil {
		return nil, nil
	}

	project := t.creds.BigQueryProject
	if project == "" {
		project = src.Param("project", sa.ProjectID)
	}
	country := strings.ToUpper(src.Param("country", "GB"))
	limit := src.Param("limit", "20")

	token, err := t.accessToken(ctx, sa)
	if err != nil {
		return nil, err
	}

	rows, err := t.query(ctx, token, project, country, limit)
	if err != nil {
		return nil, err
	}

	cands := make([]Candidate, 0, len(rows))
	for _, r := range rows {
		c := baseCandidate(src, trendsConfidence)
		c.Geo = country
		c.Tags = append(c.Tags, "trending")
		c.Title = r["term"]
		rank, _ := strconv.Atoi(r["best_rank"])
		c.BlurbSeed = fmt.Sprintf("%q is ranked #%d in Google search trends in %s for the week of %s.", r["term"], rank, r["country_name"], r["week"])
		c.URL = "https://trends.google.com/trends/explore?geo=" + url.QueryEscape(country) + "&q=" + url.QueryEscape(r["term"])
		c.PublishedAt = normalizeDate(r["refresh_date"])
		c.Metadata = map[string]any{
			"rank":         rank,
			"region":       r["country_name"],
			"week":         r["week"],
			"refresh_date": r["refresh_date"],
		}
		cands = append(cands, c)
	}
	return cands, nil
}

// serviceAccount loads the configured key, from a path or inline JSON.
// Returns nil when nothing is configured.
func (t *TrendsClient) serviceAccount() (*ServiceAccount, error) {
	raw := strings.TrimSpace(t.creds.BigQueryServiceAccount)
	if raw == "" {
		return nil, nil
	}
	data := []byte(raw)
	if !strings.HasPrefix(raw, "{") {
		b, err := os.ReadFile(raw)
		if os.IsNotExist(err) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read service account: %w", err)
		}
		data = b
	}
	var sa ServiceAccount
	if err := json.Unmarshal(data, &sa); err != nil {
		return nil, fmt.Errorf("parse service account: %w", err)
	}
	if sa.ClientEmail == "" || sa.PrivateKey == "" {
		return nil, nil
	}
	if sa.TokenURI == "" {
		sa.TokenURI = googleTokenURI
	}
	return &sa, nil
}

// accessToken returns a cached token or exchanges a fresh signed assertion.
func (t *TrendsClient) accessToken(ctx context.Context, sa *ServiceAccount) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if t.token != "" && now.Add(time.Minute).Before(t.expires) {
		return t.token, nil
	}

	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(sa.PrivateKey))
	if err != nil {
		return "", fmt.Errorf("parse service account key: %w", err)
	}
	assertion := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iss":   sa.ClientEmail,
		"scope": bigQueryScope,
		"aud":   sa.TokenURI,
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	})
	if sa.PrivateKeyID != "" {
		assertion.Header["kid"] = sa.PrivateKeyID
	}
	signed, err := assertion.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("sign assertion: %w", err)
	}

	form := url.Values{"grant_type": {jwtBearerGrant}, "assertion": {signed}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sa.TokenURI, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("exchange token: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("exchange token: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var tok struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &tok); err != nil || tok.AccessToken == "" {
		return "", fmt.Errorf("exchange token: malformed response")
	}
	t.token = tok.AccessToken
	t.expires = now.Add(time.Duration(tok.ExpiresIn) * time.Second)
	return t.token, nil
}

type bqQueryRequest struct {
	Query           string        `json:"query"`
	UseLegacySQL    bool          `json:"useLegacySql"`
	ParameterMode   string        `json:"parameterMode"`
	QueryParameters []bqParameter `json:"queryParameters"`
	TimeoutMs       int           `json:"timeoutMs"`
}

type bqParameter struct {
	Name           string `json:"name"`
	ParameterType  bqType `json:"parameterType"`
	ParameterValue struct {
		Value string `json:"value"`
	} `json:"parameterValue"`
}

type bqType struct {
	Type string `json:"type"`
}

type bqQueryResponse struct {
	JobComplete  bool `json:"jobComplete"`
	JobReference struct {
		ProjectID string `json:"projectId"`
		JobID     string `json:"jobId"`
		Location  string `json:"location"`
	} `json:"jobReference"`
	Schema      struct {
		Fields []struct {
			Name string `json:"name"`
		} `json:"fields"`
	} `json:"schema"`
	Rows []struct {
		F []struct {
			V any `json:"v"`
		} `json:"f"`
	} `json:"rows"`
}

type bqErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
		Errors  []struct {
			Reason  string `json:"reason"`
			Message string `json:"message"`
		} `json:"errors"`
	} `json:"error"`
}

// call sends one BigQuery request. Non-200 answers become a QueryError.
func (t *TrendsClient) call(ctx context.Context, method, endpoint, token string, payload []byte) (*bqQueryResponse, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("create query request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("run query: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read query response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		qe := &QueryError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
		var e bqErrorResponse
		if json.Unmarshal(data, &e) == nil && e.Error.Message != "" {
			qe.Message = e.Error.Message
			qe.Reason = e.Error.Status
			if len(e.Error.Errors) > 0 && e.Error.Errors[0].Reason != "" {
				qe.Reason = e.Error.Errors[0].Reason
			}
		}
		return nil, qe
	}

	var out bqQueryResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode query response: %w", err)
	}
	return &out, nil
}

func param(name, typ, value string) bqParameter {
	p := bqParameter{Name: name, ParameterType: bqType{Type: typ}}
	p.ParameterValue.Value = value
	return p
}

// query runs jobs.query and returns rows keyed by column name. Zero rows is
// a valid empty result. A job still running after the initial wait is polled
// through jobs.getQueryResults; one that never finishes is an ordinary
// source error, not a QueryError.
func (t *TrendsClient) query(ctx context.Context, token, project, country, limit string) ([]map[string]string, error) {
	payload, err := json.Marshal(bqQueryRequest{
		Query:         trendsQuery,
		ParameterMode: "NAMED",
		QueryParameters: []bqParameter{
			param("country", "STRING", country),
			param("limit", "INT64", limit),
		},
		TimeoutMs: bqWaitMs,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal query: %w", err)
	}

	endpoint := fmt.Sprintf("%s/projects/%s/queries", t.endpoint, url.PathEscape(project))
	out, err := t.call(ctx, http.MethodPost, endpoint, token, payload)
	if err != nil {
		return nil, err
	}
	for polls := 0; !out.JobComplete; polls++ {
		job := out.JobReference
		if job.JobID == "" || polls == bqMaxPolls {
			return nil, fmt.Errorf("warehouse job %q did not complete", job.JobID)
		}
		q := url.Values{"timeoutMs": {strconv.Itoa(bqWaitMs)}}
		if job.Location != "" {
			q.Set("location", job.Location)
		}
		pollURL := fmt.Sprintf("%s/%s?%s", endpoint, url.PathEscape(job.JobID), q.Encode())
		if out, err = t.call(ctx, http.MethodGet, pollURL, token, nil); err != nil {
			return nil, err
		}
	}

	rows := make([]map[string]string, 0, len(out.Rows))
	for _, r := range out.Rows {
		row := make(map[string]string, len(out.Schema.Fields))
		for i, f := range out.Schema.Fields {
			if i < len(r.F) {
				if s, ok := r.F[i].V.(string); ok {
					row[f.Name] = s
				}
			}
		}
		if row["term"] != "" {
			rows = append(rows, row)
		}
	}
	return rows, nil
}
