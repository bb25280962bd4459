package handlers

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"gamestore-svc/middleware"
	"gamestore-svc/models"
	"gamestore-svc/store"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type UserHandler struct {
	db       *sql.DB
	accounts *store.AccountStore
	logger   *zap.Logger
}

func NewUserHandler(db *sql.DB, accounts *store.AccountStore, logger *zap.Logger) *UserHandler {
	return &UserHandler{
		db:       db,
		accounts: accounts,
		logger:   logger,
	}
}

func (h *UserHandler) GetProfile(c *gin.Context) {
	ctx, span := otel.Tracer("gamestore-service").Start(c.Request.Context(), "GetProfile")
	defer span.End()

	userID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user ID"})
		return
	}
	span.SetAttributes(attribute.Int("user_id", userID))

	user, err := h.accounts.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
			return
		}
		span.RecordError(err)
		h.logger.Error("Failed to fetch user", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	var gamesOwned, reviewCount int
	if err := h.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM library WHERE user_id = $1", userID).Scan(&gamesOwned); err != nil {
		span.RecordError(err)
	}
	if err := h.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM reviews WHERE user_id = $1 AND is_visible = TRUE", userID).Scan(&reviewCount); err != nil {
		span.RecordError(err)
	}

	c.JSON(http.StatusOK, gin.H{
		"user":         user,
		"games_owned":  gamesOwned,
		"review_count": reviewCount,
	})
}

func (h *UserHandler) UpdateProfile(c *gin.Context) {
	ctx, span := otel.Tracer("gamestore-service").Start(c.Request.Context(), "UpdateProfile")
	defer span.End()

	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization required"})
		return
	}

	var req models.UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Username == nil && req.Email == nil && req.Avatar == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No fields to update"})
		return
	}

	if req.Email != nil {
		normalized := strings.ToLower(strings.TrimSpace(*req.Email))
		req.Email = &normalized
	}

	// Username and email stay unique across accounts
	if req.Username != nil || req.Email != nil {
		var taken bool
		err := h.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM users WHERE (username = $1 OR email = $2) AND id != $3)`,
			valueOr(req.Username, ""), valueOr(req.Email, ""), userID,
		).Scan(&taken)
		if err != nil {
			span.RecordError(err)
			h.logger.Error("Failed to check uniqueness", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}
		if taken {
			c.JSON(http.StatusConflict, gin.H{"error": "Username or email already in use"})
			return
		}
	}

	var user models.User
	err := h.db.QueryRowContext(ctx,
		`UPDATE users SET
			username = COALESCE($1, username),
			email = COALESCE($2, email),
			avatar = COALESCE($3, avatar),
			updated_at = NOW()
		 WHERE id = $4
		 RETURNING id, username, email, avatar, role, is_active, created_at, updated_at`,
		req.Username, req.Email, req.Avatar, userID,
	).Scan(&user.ID, &user.Username, &user.Email, &user.Avatar, &user.Role,
		&user.IsActive, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to update profile", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"user": user})
}

func valueOr(s *string, fallback string) string {
	if s != nil {
		return *s
	}
	return fallback
}

func (h *UserHandler) GetLibrary(c *gin.Context) {
	ctx, span := otel.Tracer("gamestore-service").Start(c.Request.Context(), "GetLibrary")
	defer span.End()

	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization required"})
		return
	}
	span.SetAttributes(attribute.Int("user_id", userID))

	entries, err := h.accounts.Library(ctx, userID)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to fetch library", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	if entries == nil {
		entries = []models.LibraryEntry{}
	}

	c.JSON(http.StatusOK, gin.H{
		"library": entries,
		"count":   len(entries),
	})
}

func (h *UserHandler) GetWishlist(c *gin.Context) {
	ctx, span := otel.Tracer("gamestore-service").Start(c.Request.Context(), "GetWishlist")
	defer span.End()

	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization required"})
		return
	}

	rows, err := h.db.QueryContext(ctx,
		`SELECT g.id, g.title, g.price, g.original_price, g.discount, g.capsule_image, w.added_at
		 FROM wishlist w JOIN games g ON g.id = w.game_id
		 WHERE w.user_id = $1 AND g.is_active = TRUE
		 ORDER BY w.added_at DESC`,
		userID,
	)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to fetch wishlist", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	defer rows.Close()

	items := []gin.H{}
	for rows.Next() {
		var (
			g       models.Game
			addedAt sql.NullTime
		)
		if err := rows.Scan(&g.ID, &g.Title, &g.Price, &g.OriginalPrice, &g.Discount, &g.CapsuleImage, &addedAt); err != nil {
			span.RecordError(err)
			continue
		}
		items = append(items, gin.H{
			"game_id":        g.ID,
			"title":          g.Title,
			"price":          g.Price,
			"original_price": g.OriginalPrice,
			"discount":       g.Discount,
			"capsule_image":  g.CapsuleImage,
			"added_at":       addedAt.Time,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"wishlist": items,
		"count":    len(items),
	})
}

// ToggleWishlist adds the game to the wishlist, or removes it if already
// present.
func (h *UserHandler) ToggleWishlist(c *gin.Context) {
	ctx, span := otel.Tracer("gamestore-service").Start(c.Request.Context(), "ToggleWishlist")
	defer span.End()

	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization required"})
		return
	}

	gameID, err := strconv.Atoi(c.Param("gameId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid game ID"})
		return
	}
	span.SetAttributes(attribute.Int("game.id", gameID))

	var gameExists bool
	if err := h.db.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM games WHERE id = $1 AND is_active = TRUE)", gameID).Scan(&gameExists); err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to check game", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	if !gameExists {
		c.JSON(http.StatusNotFound, gin.H{"error": "Game not found"})
		return
	}

	result, err := h.db.ExecContext(ctx,
		"DELETE FROM wishlist WHERE user_id = $1 AND game_id = $2", userID, gameID)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to update wishlist", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	if affected, _ := result.RowsAffected(); affected > 0 {
		c.JSON(http.StatusOK, gin.H{"message": "Removed from wishlist", "wishlisted": false})
		return
	}

	if _, err := h.db.ExecContext(ctx,
		"INSERT INTO wishlist (user_id, game_id) VALUES ($1, $2) ON CONFLICT (user_id, game_id) DO NOTHING",
		userID, gameID,
	); err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to update wishlist", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Added to wishlist", "wishlisted": true})
}

func (h *UserHandler) AdminListUsers(c *gin.Context) {
	ctx, span := otel.Tracer("gamestore-service").Start(c.Request.Context(), "AdminListUsers")
	defer span.End()

	page, limit, ok := pageParams(c, 20, 100)
	if !ok {
		return
	}

	where := "WHERE 1=1"
	args := []any{}
	addArg := func(clause string, value any) {
		args = append(args, value)
		where += " AND " + clause + "$" + strconv.Itoa(len(args))
	}

	if search := c.Query("search"); search != "" {
		args = append(args, "%"+search+"%")
		n := strconv.Itoa(len(args))
		where += " AND (username ILIKE $" + n + " OR email ILIKE $" + n + ")"
	}
	if role := c.Query("role"); role != "" {
		if !models.UserRole(role).Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid role"})
			return
		}
		addArg("role = ", role)
	}
	if active := c.Query("is_active"); active != "" {
		isActive, err := strconv.ParseBool(active)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid is_active value"})
			return
		}
		addArg("is_active = ", isActive)
	}

	var totalCount int
	if err := h.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users "+where, args...).Scan(&totalCount); err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to count users", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	offset := (page - 1) * limit
	args = append(args, limit, offset)
	n := len(args)
	rows, err := h.db.QueryContext(ctx,
		`SELECT id, username, email, avatar, role, is_active, created_at, updated_at
		 FROM users `+where+
			" ORDER BY created_at DESC LIMIT $"+strconv.Itoa(n-1)+" OFFSET $"+strconv.Itoa(n),
		args...,
	)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to fetch users", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Username, &u.Email, &u.Avatar, &u.Role,
			&u.IsActive, &u.CreatedAt, &u.UpdatedAt); err != nil {
			span.RecordError(err)
			continue
		}
		users = append(users, u)
	}

	c.JSON(http.StatusOK, gin.H{
		"users":      users,
		"pagination": models.NewPagination(page, limit, totalCount),
	})
}

func (h *UserHandler) UpdateUserRole(c *gin.Context) {
	ctx, span := otel.Tracer("gamestore-service").Start(c.Request.Context(), "UpdateUserRole")
	defer span.End()

	targetID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user ID"})
		return
	}

	var req models.UpdateUserRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !req.Role.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid role"})
		return
	}

	if adminID, _ := middleware.CurrentUserID(c); adminID == targetID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Cannot change your own role"})
		return
	}

	result, err := h.db.ExecContext(ctx,
		"UPDATE users SET role = $1, updated_at = NOW() WHERE id = $2",
		req.Role, targetID,
	)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to update role", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}

	h.logger.Info("User role updated",
		zap.Int("user_id", targetID),
		zap.String("role", string(req.Role)),
	)
	c.JSON(http.StatusOK, gin.H{"message": "Role updated successfully"})
}

func (h *UserHandler) UpdateUserStatus(c *gin.Context) {
	ctx, span := otel.Tracer("gamestore-service").Start(c.Request.Context(), "UpdateUserStatus")
	defer span.End()

	targetID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user ID"})
		return
	}

	var req models.UpdateUserStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if adminID, _ := middleware.CurrentUserID(c); adminID == targetID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Cannot deactivate your own account"})
		return
	}

	result, err := h.db.ExecContext(ctx,
		"UPDATE users SET is_active = $1, updated_at = NOW() WHERE id = $2",
		*req.IsActive, targetID,
	)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to update user status", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}

	h.logger.Info("User status updated",
		zap.Int("user_id", targetID),
		zap.Bool("is_active", *req.IsActive),
	)
	c.JSON(http.StatusOK, gin.H{"message": "User status updated successfully"})
}
