package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tutorlink/tutorlink/internal/cache"
	"github.com/tutorlink/tutorlink/internal/config"
	"github.com/tutorlink/tutorlink/internal/domain/profile"
	"github.com/tutorlink/tutorlink/internal/domain/user"
	"github.com/tutorlink/tutorlink/internal/http/middlewares"
	"github.com/tutorlink/tutorlink/internal/repo/postgres"
)

// AccountStore is the read side of AccountsHandler plus the tutor profile
// writes.
type AccountStore interface {
	GetByID(ctx context.Context, id string) (user.User, error)
	List(ctx context.Context, limit int) ([]user.User, error)
	GetTutorProfile(ctx context.Context, userID string) (profile.TutorProfile, error)
	UpdateTutorProfile(ctx context.Context, userID string, req profile.UpdateTutorProfileRequest) (profile.TutorProfile, error)
	ListChildrenOfParent(ctx context.Context, parentID string) ([]user.User, error)
}

type AccountsHandler struct {
	store AccountStore
	cache *cache.Cache
}

func NewAccountsHandler(store AccountStore, c *cache.Cache) *AccountsHandler {
	return &AccountsHandler{store: store, cache: c}
}

func userCacheKey(id string) string  { return "user:" + id }
func tutorCacheKey(id string) string { return "tutor:" + id }

// Me returns the authenticated user's record. Served from the short-TTL cache
// when warm; the token is already verified by the time we get here.
func (h *AccountsHandler) Me(ctx *gin.Context) {
	userID, ok := middlewares.UserIDFromContext(ctx)

	if !ok {
		RespondUnAuthorized(ctx, "unauthorized", "Authentication required")
		return
	}

	if h.cache != nil {
		if cached, hit := h.cache.Get(userCacheKey(userID)); hit {
			if u, ok := cached.(user.User); ok {
				ctx.JSON(http.StatusOK, gin.H{"user": u})
				return
			}
		}
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	u, err := h.store.GetByID(cctx, userID)

	if err != nil {
		if errors.Is(err, postgres.ErrUserNotFound) {
			// token outlived the account
			RespondUnAuthorized(ctx, "unauthorized", "Authentication required")
			return
		}

		RespondInternal(ctx, "Could not load user")
		return
	}

	if h.cache != nil {
		h.cache.Set(userCacheKey(userID), u)
	}

	ctx.JSON(http.StatusOK, gin.H{"user": u})
}

// AdminListUsers lists accounts, newest first. Capped at 500 rows; the limit
// query param trims further.
func (h *AccountsHandler) AdminListUsers(ctx *gin.Context) {
	limit := 100

	if raw := ctx.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)

		if err != nil || parsed < 1 {
			RespondBadRequest(ctx, "Invalid limit parameter", nil)
			return
		}

		limit = parsed
	}

	if limit > 500 {
		limit = 500
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	users, err := h.store.List(cctx, limit)

	if err != nil {
		RespondInternal(ctx, "Could not list users")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"users": users,
		"count": len(users),
	})
}

func (h *AccountsHandler) TutorGetMe(ctx *gin.Context) {
	userID, ok := middlewares.UserIDFromContext(ctx)

	if !ok {
		RespondUnAuthorized(ctx, "unauthorized", "Authentication required")
		return
	}

	if h.cache != nil {
		if cached, hit := h.cache.Get(tutorCacheKey(userID)); hit {
			if p, ok := cached.(profile.TutorProfile); ok {
				ctx.JSON(http.StatusOK, gin.H{"profile": p})
				return
			}
		}
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	p, err := h.store.GetTutorProfile(cctx, userID)

	if err != nil {
		if errors.Is(err, postgres.ErrProfileNotFound) {
			RespondNotFound(ctx, "Tutor profile not found")
			return
		}

		RespondInternal(ctx, "Could not load profile")
		return
	}

	if h.cache != nil {
		h.cache.Set(tutorCacheKey(userID), p)
	}

	ctx.JSON(http.StatusOK, gin.H{"profile": p})
}

// TutorUpdateMe applies a partial update: absent fields keep their stored
// value.
func (h *AccountsHandler) TutorUpdateMe(ctx *gin.Context) {
	userID, ok := middlewares.UserIDFromContext(ctx)

	if !ok {
		RespondUnAuthorized(ctx, "unauthorized", "Authentication required")
		return
	}

	var req profile.UpdateTutorProfileRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	p, err := h.store.UpdateTutorProfile(cctx, userID, req)

	if err != nil {
		if errors.Is(err, postgres.ErrProfileNotFound) {
			RespondNotFound(ctx, "Tutor profile not found")
			return
		}

		RespondInternal(ctx, "Could not update profile")
		return
	}

	if h.cache != nil {
		h.cache.Delete(tutorCacheKey(userID))
	}

	ctx.JSON(http.StatusOK, gin.H{"profile": p})
}

func (h *AccountsHandler) ParentListChildren(ctx *gin.Context) {
	userID, ok := middlewares.UserIDFromContext(ctx)

	if !ok {
		RespondUnAuthorized(ctx, "unauthorized", "Authentication required")
		return
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	children, err := h.store.ListChildrenOfParent(cctx, userID)

	if err != nil {
		RespondInternal(ctx, "Could not list children")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"children": children,
		"count":    len(children),
	})
}
