package handlers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"gamestore-svc/models"

	"github.com/gin-gonic/gin"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type GameHandler struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewGameHandler(db *sql.DB, logger *zap.Logger) *GameHandler {
	return &GameHandler{
		db:     db,
		logger: logger,
	}
}

const gameColumns = `id, title, price, original_price, discount, description, short_description,
	developer, publisher, release_date, tags, categories, header_image, capsule_image,
	rating, review_count, is_active, is_featured, is_popular, is_new_release, total_sales,
	created_at, updated_at`

func scanGame(row interface{ Scan(...any) error }) (models.Game, error) {
	var g models.Game
	err := row.Scan(
		&g.ID, &g.Title, &g.Price, &g.OriginalPrice, &g.Discount, &g.Description, &g.ShortDescription,
		&g.Developer, &g.Publisher, &g.ReleaseDate, pq.Array(&g.Tags), pq.Array(&g.Categories),
		&g.HeaderImage, &g.CapsuleImage, &g.Rating, &g.ReviewCount, &g.IsActive,
		&g.IsFeatured, &g.IsPopular, &g.IsNewRelease, &g.TotalSales, &g.CreatedAt, &g.UpdatedAt,
	)
	return g, err
}

func (h *GameHandler) ListGames(c *gin.Context) {
	ctx, span := otel.Tracer("gamestore-service").Start(c.Request.Context(), "ListGames")
	defer span.End()

	var q models.GameListQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conds := []string{"is_active = TRUE"}
	var args []any

	addArg := func(v any) int {
		args = append(args, v)
		return len(args)
	}

	if q.MinPrice > 0 {
		conds = append(conds, fmt.Sprintf("price >= $%d", addArg(q.MinPrice)))
	}
	if q.MaxPrice > 0 {
		conds = append(conds, fmt.Sprintf("price <= $%d", addArg(q.MaxPrice)))
	}
	if q.MinRating > 0 {
		conds = append(conds, fmt.Sprintf("rating >= $%d", addArg(q.MinRating)))
	}
	if q.Tags != "" {
		tags := splitCSV(q.Tags)
		conds = append(conds, fmt.Sprintf("tags && $%d", addArg(pq.Array(tags))))
	}
	if q.Categories != "" {
		categories := splitCSV(q.Categories)
		conds = append(conds, fmt.Sprintf("categories && $%d", addArg(pq.Array(categories))))
	}
	if q.Search != "" {
		n := addArg("%" + q.Search + "%")
		conds = append(conds, fmt.Sprintf("(title ILIKE $%d OR description ILIKE $%d)", n, n))
	}
	if q.Featured {
		conds = append(conds, "is_featured = TRUE")
	}
	if q.Popular {
		conds = append(conds, "is_popular = TRUE")
	}
	if q.NewRelease {
		conds = append(conds, "is_new_release = TRUE")
	}

	where := "WHERE " + strings.Join(conds, " AND ")

	var totalCount int
	if err := h.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM games "+where, args...).Scan(&totalCount); err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to count games", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	direction := "DESC"
	if q.Order == "asc" {
		direction = "ASC"
	}
	offset := (q.Page - 1) * q.Limit
	args = append(args, q.Limit, offset)
	query := fmt.Sprintf("SELECT %s FROM games %s ORDER BY %s %s LIMIT $%d OFFSET $%d",
		gameColumns, where, q.Sort, direction, len(args)-1, len(args))

	rows, err := h.db.QueryContext(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to fetch games", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	defer rows.Close()

	var games []models.Game
	for rows.Next() {
		g, err := scanGame(rows)
		if err != nil {
			span.RecordError(err)
			h.logger.Error("Failed to scan game", zap.Error(err))
			continue
		}
		games = append(games, g)
	}

	span.SetAttributes(attribute.Int("games.count", len(games)))
	c.JSON(http.StatusOK, gin.H{
		"games":      games,
		"pagination": models.NewPagination(q.Page, q.Limit, totalCount),
	})
}

// shelf returns a fixed-size curated listing (featured/popular/new).
func (h *GameHandler) shelf(c *gin.Context, spanName, flagColumn, orderBy string, limit int) {
	ctx, span := otel.Tracer("gamestore-service").Start(c.Request.Context(), spanName)
	defer span.End()

	query := fmt.Sprintf("SELECT %s FROM games WHERE is_active = TRUE AND %s = TRUE ORDER BY %s LIMIT %d",
		gameColumns, flagColumn, orderBy, limit)

	rows, err := h.db.QueryContext(ctx, query)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to fetch games", zap.String("shelf", flagColumn), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	defer rows.Close()

	var games []models.Game
	for rows.Next() {
		g, err := scanGame(rows)
		if err != nil {
			span.RecordError(err)
			continue
		}
		games = append(games, g)
	}

	c.JSON(http.StatusOK, gin.H{"games": games})
}

func (h *GameHandler) FeaturedGames(c *gin.Context) {
	h.shelf(c, "FeaturedGames", "is_featured", "rating DESC", 6)
}

func (h *GameHandler) PopularGames(c *gin.Context) {
	h.shelf(c, "PopularGames", "is_popular", "total_sales DESC", 8)
}

func (h *GameHandler) NewReleases(c *gin.Context) {
	h.shelf(c, "NewReleases", "is_new_release", "release_date DESC", 8)
}

func (h *GameHandler) GetGame(c *gin.Context) {
	ctx, span := otel.Tracer("gamestore-service").Start(c.Request.Context(), "GetGame")
	defer span.End()

	gameID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid game ID"})
		return
	}
	span.SetAttributes(attribute.Int("game.id", gameID))

	row := h.db.QueryRowContext(ctx,
		"SELECT "+gameColumns+" FROM games WHERE id = $1 AND is_active = TRUE", gameID)
	game, err := scanGame(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Game not found"})
			return
		}
		span.RecordError(err)
		h.logger.Error("Failed to fetch game", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	// Attach the most helpful recent reviews
	reviews, err := h.recentReviews(ctx, gameID)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to fetch reviews for game", zap.Int("game_id", gameID), zap.Error(err))
	}

	c.JSON(http.StatusOK, gin.H{
		"game":           game,
		"recent_reviews": reviews,
	})
}

func (h *GameHandler) recentReviews(ctx context.Context, gameID int) ([]models.Review, error) {
	rows, err := h.db.QueryContext(ctx,
		`SELECT r.id, r.game_id, r.user_id, u.username, u.avatar, r.rating, r.content, r.recommended,
			r.helpful, r.not_helpful, r.playtime, r.is_verified_purchase, r.created_at, r.updated_at
		 FROM reviews r JOIN users u ON u.id = r.user_id
		 WHERE r.game_id = $1 AND r.is_visible = TRUE
		 ORDER BY r.helpful DESC, r.created_at DESC
		 LIMIT 10`,
		gameID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reviews []models.Review
	for rows.Next() {
		var r models.Review
		if err := rows.Scan(&r.ID, &r.GameID, &r.UserID, &r.Username, &r.Avatar, &r.Rating, &r.Content,
			&r.Recommended, &r.Helpful, &r.NotHelpful, &r.Playtime, &r.IsVerifiedPurchase,
			&r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		r.IsVisible = true
		reviews = append(reviews, r)
	}
	return reviews, rows.Err()
}

func (h *GameHandler) CreateGame(c *gin.Context) {
	ctx, span := otel.Tracer("gamestore-service").Start(c.Request.Context(), "CreateGame")
	defer span.End()

	var req models.CreateGameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	releaseDate, err := time.Parse(time.RFC3339, req.ReleaseDate)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Valid release date is required"})
		return
	}

	var game models.Game
	row := h.db.QueryRowContext(ctx,
		`INSERT INTO games (title, price, original_price, discount, description, short_description,
			developer, publisher, release_date, tags, categories, header_image, capsule_image,
			is_featured, is_popular, is_new_release)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		 RETURNING `+gameColumns,
		req.Title, req.Price, req.OriginalPrice, req.Discount, req.Description, req.ShortDescription,
		req.Developer, req.Publisher, releaseDate, pq.Array(req.Tags), pq.Array(req.Categories),
		req.HeaderImage, req.CapsuleImage, req.IsFeatured, req.IsPopular, req.IsNewRelease,
	)
	game, err = scanGame(row)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to create game", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	span.SetAttributes(attribute.Int("game.id", game.ID))
	h.logger.Info("Game created", zap.Int("game_id", game.ID), zap.String("title", game.Title))
	c.JSON(http.StatusCreated, game)
}

func (h *GameHandler) UpdateGame(c *gin.Context) {
	ctx, span := otel.Tracer("gamestore-service").Start(c.Request.Context(), "UpdateGame")
	defer span.End()

	gameID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid game ID"})
		return
	}

	var req models.UpdateGameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var sets []string
	var args []any

	set := func(column string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if req.Title != nil {
		set("title", *req.Title)
	}
	if req.Price != nil {
		set("price", *req.Price)
	}
	if req.OriginalPrice != nil {
		set("original_price", *req.OriginalPrice)
	}
	if req.Discount != nil {
		set("discount", *req.Discount)
	}
	if req.Description != nil {
		set("description", *req.Description)
	}
	if req.ShortDescription != nil {
		set("short_description", *req.ShortDescription)
	}
	if req.Developer != nil {
		set("developer", *req.Developer)
	}
	if req.Publisher != nil {
		set("publisher", *req.Publisher)
	}
	if req.Tags != nil {
		set("tags", pq.Array(req.Tags))
	}
	if req.Categories != nil {
		set("categories", pq.Array(req.Categories))
	}
	if req.HeaderImage != nil {
		set("header_image", *req.HeaderImage)
	}
	if req.CapsuleImage != nil {
		set("capsule_image", *req.CapsuleImage)
	}
	if req.IsFeatured != nil {
		set("is_featured", *req.IsFeatured)
	}
	if req.IsPopular != nil {
		set("is_popular", *req.IsPopular)
	}
	if req.IsNewRelease != nil {
		set("is_new_release", *req.IsNewRelease)
	}

	if len(sets) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No fields to update"})
		return
	}

	sets = append(sets, "updated_at = NOW()")
	args = append(args, gameID)
	query := fmt.Sprintf("UPDATE games SET %s WHERE id = $%d RETURNING %s",
		strings.Join(sets, ", "), len(args), gameColumns)

	row := h.db.QueryRowContext(ctx, query, args...)
	game, err := scanGame(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Game not found"})
			return
		}
		span.RecordError(err)
		h.logger.Error("Failed to update game", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, game)
}

// DeleteGame is a soft delete: the game is deactivated so existing
// orders and libraries keep a valid reference.
func (h *GameHandler) DeleteGame(c *gin.Context) {
	ctx, span := otel.Tracer("gamestore-service").Start(c.Request.Context(), "DeleteGame")
	defer span.End()

	gameID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid game ID"})
		return
	}

	result, err := h.db.ExecContext(ctx,
		"UPDATE games SET is_active = FALSE, updated_at = NOW() WHERE id = $1", gameID)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to delete game", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Game not found"})
		return
	}

	h.logger.Info("Game deactivated", zap.Int("game_id", gameID))
	c.JSON(http.StatusOK, gin.H{"message": "Game deleted successfully"})
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
