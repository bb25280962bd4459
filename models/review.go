package models

import "time"

type Review struct {
	ID                 int       `json:"id"`
	GameID             int       `json:"game_id"`
	UserID             int       `json:"user_id"`
	Username           string    `json:"username,omitempty"`
	Avatar             string    `json:"avatar,omitempty"`
	GameTitle          string    `json:"game_title,omitempty"`
	Rating             int       `json:"rating"`
	Content            string    `json:"content"`
	Recommended        bool      `json:"recommended"`
	Helpful            int       `json:"helpful"`
	NotHelpful         int       `json:"not_helpful"`
	Playtime           int       `json:"playtime"` // hours
	IsVerifiedPurchase bool      `json:"is_verified_purchase"`
	IsVisible          bool      `json:"is_visible"`
	IsReported         bool      `json:"is_reported"`
	ReportCount        int       `json:"report_count"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

type CreateReviewRequest struct {
	GameID      int    `json:"game_id" binding:"required"`
	Rating      int    `json:"rating" binding:"required,gte=1,lte=5"`
	Content     string `json:"content" binding:"required,min=10,max=2000"`
	Recommended *bool  `json:"recommended" binding:"required"`
	Playtime    int    `json:"playtime" binding:"gte=0"`
}

type UpdateReviewRequest struct {
	Rating      *int    `json:"rating" binding:"omitempty,gte=1,lte=5"`
	Content     *string `json:"content" binding:"omitempty,min=10,max=2000"`
	Recommended *bool   `json:"recommended"`
	Playtime    *int    `json:"playtime" binding:"omitempty,gte=0"`
}

type ReviewVoteRequest struct {
	Vote string `json:"vote" binding:"required,oneof=helpful not_helpful"`
}

type ReportReviewRequest struct {
	Reason string `json:"reason" binding:"required"`
}

type ModerateReviewRequest struct {
	Action         string `json:"action" binding:"required,oneof=approve hide"`
	ModeratorNotes string `json:"moderator_notes" binding:"max=500"`
}

// RatingDistribution maps each star rating to its review count.
type RatingDistribution map[int]int
