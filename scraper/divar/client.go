package divar

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"carwatch/config"
	"carwatch/models"
	"carwatch/utils"
)

const (
	apiBase   = "https://api.divar.ir"
	webOrigin = "https://divar.ir"

	searchPath  = "/v8/postlist/w/search"
	detailPath  = "/v8/posts-v2/web/"
	contactPath = "/v8/postcontact/web/contact_info_v2/"
)

// Options configures a Client.
type Options struct {
	BaseURL   string // defaults to the public API
	Category  string
	Location  *time.Location
	Transport Transport
	Pacer     *utils.Pacer
	Logger    *utils.Logger
	Now       func() time.Time
}

// Client talks to the marketplace's search, detail and contact endpoints.
type Client struct {
	base      string
	category  string
	loc       *time.Location
	transport Transport
	pacer     *utils.Pacer
	logger    *utils.Logger
	now       func() time.Time
}

// New creates a ready-to-use Client.
func New(opts Options) *Client {
	c := &Client{
		base:      strings.TrimRight(opts.BaseURL, "/"),
		category:  opts.Category,
		loc:       opts.Location,
		transport: opts.Transport,
		pacer:     opts.Pacer,
		logger:    opts.Logger,
		now:       opts.Now,
	}
	if c.base == "" {
		c.base = apiBase
	}
	if c.category == "" {
		c.category = "cars"
	}
	if c.loc == nil {
		c.loc = time.UTC
	}
	if c.transport == nil {
		c.transport = NewHTTPTransport(20 * time.Second)
	}
	if c.logger == nil {
		c.logger = utils.NewLogger()
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// Close releases the underlying transport.
func (c *Client) Close() error { return c.transport.Close() }

// Search returns today's listing rows for a region, oldest first.
func (c *Client) Search(ctx context.Context, region config.Region) ([]models.ListingSummary, error) {
	payload, err := json.Marshal(newSearchRequest(region.ID, c.category))
	if err != nil {
		return nil, err
	}
	h := browserHeaders(webOrigin, webOrigin+"/")
	h.Set("Content-Type", "application/json")
	h.Set("x-standard-divar-error", "true")

	body, err := c.send(ctx, "search", &Request{
		Method: http.MethodPost,
		URL:    c.base + searchPath,
		Header: h,
		Body:   payload,
	})
	if err != nil {
		return nil, err
	}

	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("divar: decode search: %w", err)
	}

	now := c.now()
	out := make([]models.ListingSummary, 0, len(resp.ListWidgets))
	for i := len(resp.ListWidgets) - 1; i >= 0; i-- {
		w := resp.ListWidgets[i]
		if w.WidgetType != widgetPostRow {
			continue
		}
		sortedAt, ok := parseSortDate(w.sortDate())
		if !ok || !sameDay(sortedAt, now, c.loc) {
			continue
		}
		var row postRowData
		if err := json.Unmarshal(w.Data, &row); err != nil {
			c.logger.Debug("[divar] Skipping undecodable row in region %d: %v", region.ID, err)
			continue
		}
		token := row.token()
		if !ValidToken(token) {
			continue
		}
		priceText := row.MiddleDescriptionText.String()
		if priceText == "" {
			priceText = negotiable
		}
		out = append(out, models.ListingSummary{
			Token:       token,
			Title:       row.Title.String(),
			PriceText:   priceText,
			Price:       ParsePriceText(priceText),
			MileageText: row.TopDescriptionText.String(),
			District:    row.district(),
			ImageURL:    row.ImageURL.String(),
			SortedAt:    sortedAt,
			RegionID:    region.ID,
			RegionName:  region.Name,
		})
	}

	// The provider does not promise an order; reversing gets close to
	// chronological and the stable sort fixes what it can.
	slices.SortStableFunc(out, func(a, b models.ListingSummary) int {
		return a.SortedAt.Compare(b.SortedAt)
	})
	return out, nil
}

// Detail fetches the full document of one listing. A removed listing yields
// an error matching ErrNotFound; a blocked identity one matching
// ErrAccessDenied.
func (c *Client) Detail(ctx context.Context, token string) (*Detail, error) {
	if !ValidToken(token) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidToken, token)
	}
	body, err := c.send(ctx, "detail", &Request{
		Method: http.MethodGet,
		URL:    c.base + detailPath + token,
		Header: browserHeaders(webOrigin, webOrigin+"/v/"+token),
	})
	if err != nil {
		return nil, err
	}
	var d Detail
	if err := json.Unmarshal(body, &d); err != nil {
		return nil, fmt.Errorf("divar: decode detail %s: %w", token, err)
	}
	return &d, nil
}

// Contact resolves the seller's phone numbers using a bearer credential. A
// CAPTCHA challenge is reported as ErrCaptcha even though the status is 200.
// An empty slice with a nil error means the listing exposes no contact.
func (c *Client) Contact(ctx context.Context, token, credential string) ([]models.Contact, error) {
	if !ValidToken(token) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidToken, token)
	}
	h := browserHeaders(webOrigin, webOrigin+"/v/"+token)
	h.Set("Content-Type", "application/json")
	h.Set("Authorization", "Bearer "+credential)

	body, err := c.send(ctx, "contact", &Request{
		Method: http.MethodPost,
		URL:    c.base + contactPath + token,
		Header: h,
		Body:   []byte("{}"),
	})
	if err != nil {
		return nil, err
	}

	var resp contactResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("divar: decode contact %s: %w", token, err)
	}
	if resp.captcha() {
		return nil, ErrCaptcha
	}

	contacts := []models.Contact{}
	for _, w := range resp.WidgetList {
		row, ok := w.UnexpandableRow()
		if !ok || row.Action == nil || row.Action.Payload == nil {
			continue
		}
		if row.Action.Type.String() != actionCallPhone {
			continue
		}
		phone := row.Action.Payload.PhoneNumber.String()
		if phone == "" {
			continue
		}
		label := row.Title.String()
		if label == "" {
			label = "شماره"
		}
		contacts = append(contacts, models.Contact{Label: label, Phone: phone})
	}
	return contacts, nil
}

func (c *Client) send(ctx context.Context, op string, req *Request) ([]byte, error) {
	if err := c.pacer.Wait(ctx); err != nil {
		return nil, err
	}
	resp, err := c.transport.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("divar: %s: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := string(resp.Body)
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		return nil, &StatusError{Op: op, Code: resp.StatusCode, Body: strings.TrimSpace(snippet)}
	}
	return resp.Body, nil
}
