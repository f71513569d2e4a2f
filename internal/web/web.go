package web

import (
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/contribium/contribium/internal/comments"
	"github.com/contribium/contribium/internal/config"
	"github.com/contribium/contribium/internal/model"
	"github.com/contribium/contribium/internal/reward"
	"github.com/contribium/contribium/internal/store"
)

//go:embed templates/*.html
var templateFS embed.FS

// VisibleTiers is how many reward tiers are listed before the rest are summarised.
const VisibleTiers = 3

// Handler holds dependencies for web handlers
type Handler struct {
	store     store.Store
	cfg       *config.Config
	logger    *zap.Logger
	templates map[string]*template.Template
}

var funcs = template.FuncMap{
	"ago":      func(t time.Time) string { return humanize.Time(t) },
	"amount":   FormatAmount,
	"position": reward.PositionLabel,
	"plural":   plural,
}

// NewHandler creates a new web handler
func NewHandler(s store.Store, cfg *config.Config, logger *zap.Logger) (*Handler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	templates := make(map[string]*template.Template)

	base, err := template.New("base.html").Funcs(funcs).ParseFS(templateFS, "templates/base.html")
	if err != nil {
		return nil, err
	}

	// Parse each page template with its own clone of base
	pages := []string{"home.html", "bounty.html"}
	for _, page := range pages {
		tmpl, err := base.Clone()
		if err != nil {
			return nil, err
		}
		if _, err := tmpl.ParseFS(templateFS, "templates/"+page); err != nil {
			return nil, err
		}
		templates[page] = tmpl
	}

	return &Handler{
		store:     s,
		cfg:       cfg,
		logger:    logger.Named("web"),
		templates: templates,
	}, nil
}

// RewardSummary is the compact reward display of a bounty
type RewardSummary struct {
	Total  float64
	Token  string
	Tiered bool
	Tiers  []model.RewardTier
	More   int
}

// Summarize lists the first VisibleTiers tiers and counts the rest
func Summarize(b *model.Bounty) RewardSummary {
	s := RewardSummary{Total: b.RewardTotal, Token: b.RewardToken, Tiered: b.TieredReward}
	if !b.TieredReward {
		return s
	}
	s.Tiers = b.RewardTiers
	if len(s.Tiers) > VisibleTiers {
		s.More = len(s.Tiers) - VisibleTiers
		s.Tiers = s.Tiers[:VisibleTiers]
	}
	return s
}

// BountyCard is one row of the home page
type BountyCard struct {
	Bounty *model.Bounty
	Reward RewardSummary
}

// HomeData is the data for the home page template
type HomeData struct {
	Bounties []BountyCard
	BaseURL  string
}

// CommentView is a comment prepared for the discussion template
type CommentView struct {
	model.Comment
	FromSponsor bool
	Replies     []CommentView
}

// BountyData is the data for the discussion page template
type BountyData struct {
	Bounty       *model.Bounty
	Reward       RewardSummary
	Comments     []CommentView
	CommentCount int
	BaseURL      string
}

// Home handles GET /
func (h *Handler) Home(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	bounties, err := h.store.ListBounties(r.Context(), store.DefaultBountyListLimit)
	if err != nil {
		h.logger.Error("list bounties", zap.Error(err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	// Content negotiation
	if wantsJSON(r) {
		if bounties == nil {
			bounties = []*model.Bounty{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"bounties": bounties,
		})
		return
	}

	data := HomeData{BaseURL: h.cfg.BaseURL}
	for _, b := range bounties {
		data.Bounties = append(data.Bounties, BountyCard{Bounty: b, Reward: Summarize(b)})
	}

	h.render(w, "home.html", data)
}

// Bounty handles GET /bounty/{id}
func (h *Handler) Bounty(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		http.NotFound(w, r)
		return
	}

	bounty, err := h.store.GetBounty(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		h.logger.Error("get bounty", zap.String("bounty_id", id), zap.Error(err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	flat, err := h.store.ListComments(r.Context(), id)
	if err != nil {
		h.logger.Error("list comments", zap.String("bounty_id", id), zap.Error(err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	tree := comments.Build(flat, nil)

	// Content negotiation
	if wantsJSON(r) {
		if tree == nil {
			tree = []model.Comment{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"bounty":        bounty,
			"comments":      tree,
			"comment_count": comments.CountTree(tree),
		})
		return
	}

	data := BountyData{
		Bounty:       bounty,
		Reward:       Summarize(bounty),
		Comments:     commentViews(tree, bounty.SponsorUserID),
		CommentCount: comments.CountTree(tree),
		BaseURL:      h.cfg.BaseURL,
	}

	h.render(w, "bounty.html", data)
}

func (h *Handler) render(w http.ResponseWriter, page string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := h.templates[page].ExecuteTemplate(w, "base", data); err != nil {
		h.logger.Error("template error", zap.String("page", page), zap.Error(err))
	}
}

func commentViews(tree []model.Comment, sponsorID string) []CommentView {
	if len(tree) == 0 {
		return nil
	}
	out := make([]CommentView, len(tree))
	for i, c := range tree {
		out[i] = CommentView{
			Comment:     c,
			FromSponsor: sponsorID != "" && c.Author.ID == sponsorID,
			Replies:     commentViews(c.Replies, sponsorID),
		}
	}
	return out
}

// Helper functions

// wantsJSON reports whether the client asked for JSON, either with
// ?format=json or by listing application/json ahead of text/html.
func wantsJSON(r *http.Request) bool {
	if r.URL.Query().Get("format") == "json" {
		return true
	}
	for _, part := range strings.Split(r.Header.Get("Accept"), ",") {
		mediaType, _, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err != nil {
			continue
		}
		switch mediaType {
		case "application/json":
			return true
		case "text/html":
			return false
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// FormatAmount formats a reward amount with thousands separators and at most two decimals
func FormatAmount(amount float64) string {
	return humanize.CommafWithDigits(amount, 2)
}

func plural(n int, word string) string {
	if n == 1 {
		return "1 " + word
	}
	return humanize.Comma(int64(n)) + " " + word + "s"
}
