package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/contribium/contribium/internal/model"
	"github.com/contribium/contribium/internal/reward"
	"github.com/contribium/contribium/internal/store"
)

// MaxPreviewTiers caps the tier count accepted by the preview endpoint.
const MaxPreviewTiers = 20

type CreateBountyRequest struct {
	Title        string             `json:"title"`
	Description  string             `json:"description,omitempty"`
	RewardTotal  float64            `json:"reward_total"`
	RewardToken  string             `json:"reward_token,omitempty"`
	TieredReward bool               `json:"is_tiered_reward"`
	RewardTiers  []model.RewardTier `json:"reward_tiers,omitempty"`
}

type ListBountiesResponse struct {
	Bounties []*model.Bounty `json:"bounties"`
}

type SaveRewardResponse struct {
	Bounty  *model.Bounty `json:"bounty"`
	Balance string        `json:"balance"`
	Message string        `json:"message"`
}

type PreviewTier struct {
	model.RewardTier
	Label string `json:"label"`
}

type PreviewResponse struct {
	Total     float64       `json:"total"`
	Token     string        `json:"token"`
	Tiers     []PreviewTier `json:"tiers"`
	TierTotal float64       `json:"tier_total"`
	Balance   string        `json:"balance"`
}

// ListBounties handles GET /api/bounties
func (h *Handler) ListBounties(w http.ResponseWriter, r *http.Request) {
	bounties, err := h.store.ListBounties(r.Context(), queryInt(r, "limit", store.DefaultBountyListLimit))
	if err != nil {
		h.writeStoreError(w, r, err, "bounty not found")
		return
	}
	if bounties == nil {
		bounties = []*model.Bounty{}
	}

	writeJSON(w, http.StatusOK, ListBountiesResponse{Bounties: bounties})
}

// CreateBounty handles POST /api/bounties. The caller becomes the sponsor.
func (h *Handler) CreateBounty(w http.ResponseWriter, r *http.Request) {
	var req CreateBountyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	if req.RewardTotal < 0 {
		writeError(w, http.StatusBadRequest, "reward_total must not be negative")
		return
	}
	if negativeTier(req.RewardTiers) {
		writeError(w, http.StatusBadRequest, "tier amounts must not be negative")
		return
	}

	alloc := allocatorFor(req.RewardTotal, req.RewardToken, req.TieredReward, req.RewardTiers)
	bounty := &model.Bounty{
		Title:         req.Title,
		Description:   req.Description,
		SponsorUserID: ViewerFromContext(r.Context()).ID,
		RewardTotal:   alloc.Total(),
		RewardToken:   alloc.Token(),
		TieredReward:  alloc.Tiered(),
	}
	if alloc.Tiered() {
		bounty.RewardTiers = alloc.Tiers()
	}

	if err := h.store.CreateBounty(r.Context(), bounty); err != nil {
		h.writeStoreError(w, r, err, "bounty not found")
		return
	}

	writeJSON(w, http.StatusCreated, bounty)
}

// GetBounty handles GET /api/bounties/{id}
func (h *Handler) GetBounty(w http.ResponseWriter, r *http.Request) {
	bounty, err := h.store.GetBounty(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeStoreError(w, r, err, "bounty not found")
		return
	}

	writeJSON(w, http.StatusOK, bounty)
}

// SaveReward handles PUT /api/bounties/{id}/reward. A tier sum that does not
// match the total is saved anyway and reported in the response.
func (h *Handler) SaveReward(w http.ResponseWriter, r *http.Request) {
	var req store.RewardUpdate
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if negativeTier(req.Tiers) {
		writeError(w, http.StatusBadRequest, "tier amounts must not be negative")
		return
	}

	alloc := allocatorFor(req.Total, req.Token, req.Tiered, req.Tiers)
	update := store.RewardUpdate{
		Total:  alloc.Total(),
		Token:  alloc.Token(),
		Tiered: alloc.Tiered(),
	}
	if alloc.Tiered() {
		update.Tiers = alloc.Tiers()
	}

	viewer := ViewerFromContext(r.Context())
	bounty, err := h.store.UpdateBountyReward(r.Context(), r.PathValue("id"), viewer.ID, update)
	if err != nil {
		h.writeStoreError(w, r, err, "bounty not found")
		return
	}

	balance := reward.Matches
	if alloc.Tiered() {
		balance = alloc.Balance()
	}
	writeJSON(w, http.StatusOK, SaveRewardResponse{
		Bounty:  bounty,
		Balance: balance.String(),
		Message: balance.Message(),
	})
}

// PreviewRewards handles GET /api/rewards/preview?total=&tiers=
func (h *Handler) PreviewRewards(w http.ResponseWriter, r *http.Request) {
	total, err := strconv.ParseFloat(r.URL.Query().Get("total"), 64)
	if err != nil || total < 0 {
		writeError(w, http.StatusBadRequest, "total must be a non-negative number")
		return
	}
	n := queryInt(r, "tiers", reward.DefaultTierCount)
	if n < 1 || n > MaxPreviewTiers {
		writeError(w, http.StatusBadRequest, "tiers must be between 1 and "+strconv.Itoa(MaxPreviewTiers))
		return
	}

	token := r.URL.Query().Get("token")
	if token == "" {
		token = "USDC"
	}

	alloc := reward.NewAllocator(token)
	for len(alloc.Tiers()) < n {
		alloc.AddTier()
	}
	for len(alloc.Tiers()) > n {
		alloc.RemoveTier(len(alloc.Tiers()))
	}
	if rate, err := strconv.ParseFloat(r.URL.Query().Get("usd_rate"), 64); err == nil {
		alloc.SetUSDRate(rate)
	}
	alloc.SetTotal(total)

	resp := PreviewResponse{
		Total:     alloc.Total(),
		Token:     alloc.Token(),
		TierTotal: alloc.TotalTierAmount(),
		Balance:   alloc.Balance().String(),
	}
	for _, t := range alloc.Tiers() {
		resp.Tiers = append(resp.Tiers, PreviewTier{RewardTier: t, Label: reward.PositionLabel(t.Position)})
	}

	writeJSON(w, http.StatusOK, resp)
}

// allocatorFor normalises a submitted reward. Tiered rewards without tiers
// get the default split of the total.
func allocatorFor(total float64, token string, tiered bool, tiers []model.RewardTier) *reward.Allocator {
	if token == "" {
		token = "USDC"
	}
	if tiered && len(tiers) == 0 {
		alloc := reward.NewAllocator(token)
		alloc.SetTotal(total)
		return alloc
	}
	return reward.FromTiers(total, token, tiered, tiers)
}

func negativeTier(tiers []model.RewardTier) bool {
	for _, t := range tiers {
		if t.Amount < 0 {
			return true
		}
	}
	return false
}
