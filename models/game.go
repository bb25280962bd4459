package models

import "time"

type Game struct {
	ID               int       `json:"id"`
	Title            string    `json:"title"`
	Price            float64   `json:"price"`
	OriginalPrice    float64   `json:"original_price,omitempty"`
	Discount         float64   `json:"discount,omitempty"`
	Description      string    `json:"description"`
	ShortDescription string    `json:"short_description"`
	Developer        string    `json:"developer"`
	Publisher        string    `json:"publisher"`
	ReleaseDate      time.Time `json:"release_date"`
	Tags             []string  `json:"tags"`
	Categories       []string  `json:"categories"`
	HeaderImage      string    `json:"header_image"`
	CapsuleImage     string    `json:"capsule_image"`
	Rating           float64   `json:"rating"`
	ReviewCount      int       `json:"review_count"`
	IsActive         bool      `json:"is_active"`
	IsFeatured       bool      `json:"is_featured"`
	IsPopular        bool      `json:"is_popular"`
	IsNewRelease     bool      `json:"is_new_release"`
	TotalSales       int       `json:"total_sales"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

type CreateGameRequest struct {
	Title            string   `json:"title" binding:"required"`
	Price            float64  `json:"price" binding:"gte=0"`
	OriginalPrice    float64  `json:"original_price" binding:"gte=0"`
	Discount         float64  `json:"discount" binding:"gte=0,lte=100"`
	Description      string   `json:"description" binding:"required"`
	ShortDescription string   `json:"short_description" binding:"required,max=200"`
	Developer        string   `json:"developer" binding:"required"`
	Publisher        string   `json:"publisher" binding:"required"`
	ReleaseDate      string   `json:"release_date" binding:"required"`
	Tags             []string `json:"tags"`
	Categories       []string `json:"categories"`
	HeaderImage      string   `json:"header_image" binding:"required,url"`
	CapsuleImage     string   `json:"capsule_image" binding:"required,url"`
	IsFeatured       bool     `json:"is_featured"`
	IsPopular        bool     `json:"is_popular"`
	IsNewRelease     bool     `json:"is_new_release"`
}

type UpdateGameRequest struct {
	Title            *string  `json:"title"`
	Price            *float64 `json:"price" binding:"omitempty,gte=0"`
	OriginalPrice    *float64 `json:"original_price" binding:"omitempty,gte=0"`
	Discount         *float64 `json:"discount" binding:"omitempty,gte=0,lte=100"`
	Description      *string  `json:"description"`
	ShortDescription *string  `json:"short_description" binding:"omitempty,max=200"`
	Developer        *string  `json:"developer"`
	Publisher        *string  `json:"publisher"`
	Tags             []string `json:"tags"`
	Categories       []string `json:"categories"`
	HeaderImage      *string  `json:"header_image" binding:"omitempty,url"`
	CapsuleImage     *string  `json:"capsule_image" binding:"omitempty,url"`
	IsFeatured       *bool    `json:"is_featured"`
	IsPopular        *bool    `json:"is_popular"`
	IsNewRelease     *bool    `json:"is_new_release"`
}

// GameListQuery carries the catalog listing filters parsed from the
// query string.
type GameListQuery struct {
	Page       int     `form:"page,default=1" binding:"gte=1"`
	Limit      int     `form:"limit,default=12" binding:"gte=1,lte=50"`
	Sort       string  `form:"sort,default=release_date" binding:"omitempty,oneof=title price rating release_date total_sales"`
	Order      string  `form:"order,default=desc" binding:"omitempty,oneof=asc desc"`
	Search     string  `form:"search"`
	MinPrice   float64 `form:"min_price" binding:"gte=0"`
	MaxPrice   float64 `form:"max_price" binding:"gte=0"`
	MinRating  float64 `form:"min_rating" binding:"gte=0,lte=5"`
	Tags       string  `form:"tags"`
	Categories string  `form:"categories"`
	Featured   bool    `form:"featured"`
	Popular    bool    `form:"popular"`
	NewRelease bool    `form:"new_release"`
}

// Pagination is the shared list-response envelope.
type Pagination struct {
	CurrentPage int  `json:"current_page"`
	TotalPages  int  `json:"total_pages"`
	TotalCount  int  `json:"total_count"`
	HasNext     bool `json:"has_next"`
	HasPrev     bool `json:"has_prev"`
}

func NewPagination(page, limit, totalCount int) Pagination {
	totalPages := (totalCount + limit - 1) / limit
	return Pagination{
		CurrentPage: page,
		TotalPages:  totalPages,
		TotalCount:  totalCount,
		HasNext:     page < totalPages,
		HasPrev:     page > 1,
	}
}
