package handlers

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strconv"

	"gamestore-svc/middleware"
	"gamestore-svc/models"

	"github.com/gin-gonic/gin"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type ReviewHandler struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewReviewHandler(db *sql.DB, logger *zap.Logger) *ReviewHandler {
	return &ReviewHandler{
		db:     db,
		logger: logger,
	}
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func (h *ReviewHandler) ListGameReviews(c *gin.Context) {
	ctx, span := otel.Tracer("gamestore-service").Start(c.Request.Context(), "ListGameReviews")
	defer span.End()

	gameID, err := strconv.Atoi(c.Param("gameId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid game ID"})
		return
	}
	span.SetAttributes(attribute.Int("game.id", gameID))

	page, limit, ok := pageParams(c, 10, 50)
	if !ok {
		return
	}

	orderBy := "r.helpful DESC, r.created_at DESC"
	switch c.DefaultQuery("sort", "helpful") {
	case "helpful":
	case "recent":
		orderBy = "r.created_at DESC"
	case "rating":
		orderBy = "r.rating DESC, r.created_at DESC"
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid sort field"})
		return
	}

	where := "WHERE r.game_id = $1 AND r.is_visible = TRUE"
	switch c.DefaultQuery("filter", "all") {
	case "all":
	case "positive":
		where += " AND r.rating >= 4"
	case "negative":
		where += " AND r.rating <= 2"
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid filter"})
		return
	}

	var totalCount int
	if err := h.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM reviews r "+where, gameID).Scan(&totalCount); err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to count reviews", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	offset := (page - 1) * limit
	rows, err := h.db.QueryContext(ctx,
		`SELECT r.id, r.game_id, r.user_id, u.username, u.avatar, r.rating, r.content, r.recommended,
			r.helpful, r.not_helpful, r.playtime, r.is_verified_purchase, r.is_visible,
			r.created_at, r.updated_at
		 FROM reviews r JOIN users u ON u.id = r.user_id `+where+
			" ORDER BY "+orderBy+" LIMIT $2 OFFSET $3",
		gameID, limit, offset,
	)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to fetch reviews", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	defer rows.Close()

	var reviews []models.Review
	for rows.Next() {
		var r models.Review
		if err := rows.Scan(&r.ID, &r.GameID, &r.UserID, &r.Username, &r.Avatar, &r.Rating, &r.Content,
			&r.Recommended, &r.Helpful, &r.NotHelpful, &r.Playtime, &r.IsVerifiedPurchase, &r.IsVisible,
			&r.CreatedAt, &r.UpdatedAt); err != nil {
			span.RecordError(err)
			continue
		}
		reviews = append(reviews, r)
	}

	distribution, err := h.ratingDistribution(ctx, gameID)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to compute rating distribution", zap.Error(err))
	}

	c.JSON(http.StatusOK, gin.H{
		"reviews":             reviews,
		"pagination":          models.NewPagination(page, limit, totalCount),
		"rating_distribution": distribution,
	})
}

func (h *ReviewHandler) ratingDistribution(ctx context.Context, gameID int) (models.RatingDistribution, error) {
	distribution := models.RatingDistribution{1: 0, 2: 0, 3: 0, 4: 0, 5: 0}

	rows, err := h.db.QueryContext(ctx,
		"SELECT rating, COUNT(*) FROM reviews WHERE game_id = $1 AND is_visible = TRUE GROUP BY rating",
		gameID,
	)
	if err != nil {
		return distribution, err
	}
	defer rows.Close()

	for rows.Next() {
		var rating, count int
		if err := rows.Scan(&rating, &count); err != nil {
			return distribution, err
		}
		distribution[rating] = count
	}
	return distribution, rows.Err()
}

func (h *ReviewHandler) ListUserReviews(c *gin.Context) {
	ctx, span := otel.Tracer("gamestore-service").Start(c.Request.Context(), "ListUserReviews")
	defer span.End()

	userID, err := strconv.Atoi(c.Param("userId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user ID"})
		return
	}

	page, limit, ok := pageParams(c, 10, 50)
	if !ok {
		return
	}

	var totalCount int
	if err := h.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM reviews WHERE user_id = $1 AND is_visible = TRUE", userID).Scan(&totalCount); err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to count reviews", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	offset := (page - 1) * limit
	rows, err := h.db.QueryContext(ctx,
		`SELECT r.id, r.game_id, g.title, r.user_id, r.rating, r.content, r.recommended,
			r.helpful, r.not_helpful, r.playtime, r.is_verified_purchase, r.created_at, r.updated_at
		 FROM reviews r JOIN games g ON g.id = r.game_id
		 WHERE r.user_id = $1 AND r.is_visible = TRUE
		 ORDER BY r.created_at DESC LIMIT $2 OFFSET $3`,
		userID, limit, offset,
	)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to fetch reviews", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	defer rows.Close()

	var reviews []models.Review
	for rows.Next() {
		var r models.Review
		if err := rows.Scan(&r.ID, &r.GameID, &r.GameTitle, &r.UserID, &r.Rating, &r.Content,
			&r.Recommended, &r.Helpful, &r.NotHelpful, &r.Playtime, &r.IsVerifiedPurchase,
			&r.CreatedAt, &r.UpdatedAt); err != nil {
			span.RecordError(err)
			continue
		}
		r.IsVisible = true
		reviews = append(reviews, r)
	}

	c.JSON(http.StatusOK, gin.H{
		"reviews":    reviews,
		"pagination": models.NewPagination(page, limit, totalCount),
	})
}

func (h *ReviewHandler) CreateReview(c *gin.Context) {
	ctx, span := otel.Tracer("gamestore-service").Start(c.Request.Context(), "CreateReview")
	defer span.End()

	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization required"})
		return
	}

	var req models.CreateReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	span.SetAttributes(attribute.Int("game.id", req.GameID), attribute.Int("user_id", userID))

	// Game must exist and be active
	var gameExists bool
	if err := h.db.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM games WHERE id = $1 AND is_active = TRUE)", req.GameID).Scan(&gameExists); err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to check game", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	if !gameExists {
		c.JSON(http.StatusNotFound, gin.H{"error": "Game not found"})
		return
	}

	// Verified purchase = the reviewer owns the game
	var verified bool
	if err := h.db.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM library WHERE user_id = $1 AND game_id = $2)", userID, req.GameID).Scan(&verified); err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to check ownership", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	var review models.Review
	err := h.db.QueryRowContext(ctx,
		`INSERT INTO reviews (game_id, user_id, rating, content, recommended, playtime, is_verified_purchase)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, game_id, user_id, rating, content, recommended, helpful, not_helpful,
			playtime, is_verified_purchase, is_visible, is_reported, report_count, created_at, updated_at`,
		req.GameID, userID, req.Rating, req.Content, *req.Recommended, req.Playtime, verified,
	).Scan(&review.ID, &review.GameID, &review.UserID, &review.Rating, &review.Content,
		&review.Recommended, &review.Helpful, &review.NotHelpful, &review.Playtime,
		&review.IsVerifiedPurchase, &review.IsVisible, &review.IsReported, &review.ReportCount,
		&review.CreatedAt, &review.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			c.JSON(http.StatusConflict, gin.H{"error": "You have already reviewed this game"})
			return
		}
		span.RecordError(err)
		h.logger.Error("Failed to create review", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	h.updateGameRating(ctx, req.GameID)

	h.logger.Info("Review created", zap.Int("review_id", review.ID), zap.Int("game_id", req.GameID))
	c.JSON(http.StatusCreated, gin.H{"review": review})
}

// updateGameRating recomputes the catalog's denormalized rating
// aggregate from visible reviews. Best-effort; listing pages tolerate a
// stale aggregate.
func (h *ReviewHandler) updateGameRating(ctx context.Context, gameID int) {
	_, err := h.db.ExecContext(ctx,
		`UPDATE games SET
			rating = COALESCE((SELECT AVG(rating) FROM reviews WHERE game_id = $1 AND is_visible = TRUE), 0),
			review_count = (SELECT COUNT(*) FROM reviews WHERE game_id = $1 AND is_visible = TRUE),
			updated_at = NOW()
		 WHERE id = $1`,
		gameID,
	)
	if err != nil {
		h.logger.Error("Failed to update game rating aggregate", zap.Int("game_id", gameID), zap.Error(err))
	}
}

func (h *ReviewHandler) UpdateReview(c *gin.Context) {
	ctx, span := otel.Tracer("gamestore-service").Start(c.Request.Context(), "UpdateReview")
	defer span.End()

	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization required"})
		return
	}

	reviewID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid review ID"})
		return
	}

	var req models.UpdateReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var ownerID, gameID int
	err = h.db.QueryRowContext(ctx, "SELECT user_id, game_id FROM reviews WHERE id = $1", reviewID).Scan(&ownerID, &gameID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Review not found"})
			return
		}
		span.RecordError(err)
		h.logger.Error("Failed to load review", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	if ownerID != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "Not authorized to update this review"})
		return
	}

	var review models.Review
	err = h.db.QueryRowContext(ctx,
		`UPDATE reviews SET
			rating = COALESCE($1, rating),
			content = COALESCE($2, content),
			recommended = COALESCE($3, recommended),
			playtime = COALESCE($4, playtime),
			updated_at = NOW()
		 WHERE id = $5
		 RETURNING id, game_id, user_id, rating, content, recommended, helpful, not_helpful,
			playtime, is_verified_purchase, is_visible, is_reported, report_count, created_at, updated_at`,
		req.Rating, req.Content, req.Recommended, req.Playtime, reviewID,
	).Scan(&review.ID, &review.GameID, &review.UserID, &review.Rating, &review.Content,
		&review.Recommended, &review.Helpful, &review.NotHelpful, &review.Playtime,
		&review.IsVerifiedPurchase, &review.IsVisible, &review.IsReported, &review.ReportCount,
		&review.CreatedAt, &review.UpdatedAt)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to update review", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	h.updateGameRating(ctx, gameID)

	c.JSON(http.StatusOK, gin.H{"review": review})
}

func (h *ReviewHandler) DeleteReview(c *gin.Context) {
	ctx, span := otel.Tracer("gamestore-service").Start(c.Request.Context(), "DeleteReview")
	defer span.End()

	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization required"})
		return
	}

	reviewID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid review ID"})
		return
	}

	var ownerID, gameID int
	err = h.db.QueryRowContext(ctx, "SELECT user_id, game_id FROM reviews WHERE id = $1", reviewID).Scan(&ownerID, &gameID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Review not found"})
			return
		}
		span.RecordError(err)
		h.logger.Error("Failed to load review", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	if ownerID != userID && middleware.CurrentUserRole(c) != models.RoleAdmin {
		c.JSON(http.StatusForbidden, gin.H{"error": "Not authorized to delete this review"})
		return
	}

	if _, err := h.db.ExecContext(ctx, "DELETE FROM review_votes WHERE review_id = $1", reviewID); err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to delete review votes", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	if _, err := h.db.ExecContext(ctx, "DELETE FROM reviews WHERE id = $1", reviewID); err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to delete review", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	h.updateGameRating(ctx, gameID)

	c.JSON(http.StatusOK, gin.H{"message": "Review deleted successfully"})
}

func (h *ReviewHandler) VoteReview(c *gin.Context) {
	ctx, span := otel.Tracer("gamestore-service").Start(c.Request.Context(), "VoteReview")
	defer span.End()

	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization required"})
		return
	}

	reviewID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid review ID"})
		return
	}

	var req models.ReviewVoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var ownerID int
	err = h.db.QueryRowContext(ctx, "SELECT user_id FROM reviews WHERE id = $1", reviewID).Scan(&ownerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Review not found"})
			return
		}
		span.RecordError(err)
		h.logger.Error("Failed to load review", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	if ownerID == userID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Cannot vote on your own review"})
		return
	}

	isHelpful := req.Vote == "helpful"
	if _, err := h.db.ExecContext(ctx,
		"INSERT INTO review_votes (review_id, user_id, is_helpful) VALUES ($1, $2, $3)",
		reviewID, userID, isHelpful,
	); err != nil {
		if isUniqueViolation(err) {
			c.JSON(http.StatusConflict, gin.H{"error": "You have already voted on this review"})
			return
		}
		span.RecordError(err)
		h.logger.Error("Failed to record vote", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	column := "not_helpful"
	if isHelpful {
		column = "helpful"
	}
	var helpful, notHelpful int
	err = h.db.QueryRowContext(ctx,
		"UPDATE reviews SET "+column+" = "+column+" + 1, updated_at = NOW() WHERE id = $1 RETURNING helpful, not_helpful",
		reviewID,
	).Scan(&helpful, &notHelpful)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to update vote counters", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":     "Vote recorded successfully",
		"helpful":     helpful,
		"not_helpful": notHelpful,
	})
}

func (h *ReviewHandler) ReportReview(c *gin.Context) {
	ctx, span := otel.Tracer("gamestore-service").Start(c.Request.Context(), "ReportReview")
	defer span.End()

	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization required"})
		return
	}

	reviewID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid review ID"})
		return
	}

	var req models.ReportReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.db.ExecContext(ctx,
		"UPDATE reviews SET is_reported = TRUE, report_count = report_count + 1, updated_at = NOW() WHERE id = $1",
		reviewID,
	)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to report review", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Review not found"})
		return
	}

	h.logger.Info("Review reported",
		zap.Int("review_id", reviewID),
		zap.Int("reporter_id", userID),
		zap.String("reason", req.Reason),
	)
	c.JSON(http.StatusOK, gin.H{"message": "Review reported successfully"})
}

func (h *ReviewHandler) ReportedReviews(c *gin.Context) {
	ctx, span := otel.Tracer("gamestore-service").Start(c.Request.Context(), "ReportedReviews")
	defer span.End()

	page, limit, ok := pageParams(c, 20, 100)
	if !ok {
		return
	}

	var totalCount int
	if err := h.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM reviews WHERE is_reported = TRUE").Scan(&totalCount); err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to count reported reviews", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	offset := (page - 1) * limit
	rows, err := h.db.QueryContext(ctx,
		`SELECT r.id, r.game_id, g.title, r.user_id, u.username, r.rating, r.content, r.recommended,
			r.helpful, r.not_helpful, r.is_visible, r.is_reported, r.report_count, r.created_at, r.updated_at
		 FROM reviews r
		 JOIN games g ON g.id = r.game_id
		 JOIN users u ON u.id = r.user_id
		 WHERE r.is_reported = TRUE
		 ORDER BY r.report_count DESC, r.created_at DESC LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to fetch reported reviews", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	defer rows.Close()

	var reviews []models.Review
	for rows.Next() {
		var r models.Review
		if err := rows.Scan(&r.ID, &r.GameID, &r.GameTitle, &r.UserID, &r.Username, &r.Rating, &r.Content,
			&r.Recommended, &r.Helpful, &r.NotHelpful, &r.IsVisible, &r.IsReported, &r.ReportCount,
			&r.CreatedAt, &r.UpdatedAt); err != nil {
			span.RecordError(err)
			continue
		}
		reviews = append(reviews, r)
	}

	c.JSON(http.StatusOK, gin.H{
		"reviews":    reviews,
		"pagination": models.NewPagination(page, limit, totalCount),
	})
}

func (h *ReviewHandler) ModerateReview(c *gin.Context) {
	ctx, span := otel.Tracer("gamestore-service").Start(c.Request.Context(), "ModerateReview")
	defer span.End()

	reviewID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid review ID"})
		return
	}

	var req models.ModerateReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	visible := req.Action == "approve"

	var gameID int
	err = h.db.QueryRowContext(ctx,
		"UPDATE reviews SET is_visible = $1, is_reported = FALSE, updated_at = NOW() WHERE id = $2 RETURNING game_id",
		visible, reviewID,
	).Scan(&gameID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Review not found"})
			return
		}
		span.RecordError(err)
		h.logger.Error("Failed to moderate review", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	// Hidden reviews drop out of the rating aggregate
	h.updateGameRating(ctx, gameID)

	h.logger.Info("Review moderated",
		zap.Int("review_id", reviewID),
		zap.String("action", req.Action),
		zap.String("notes", req.ModeratorNotes),
	)
	c.JSON(http.StatusOK, gin.H{"message": "Review " + req.Action + "d successfully"})
}
