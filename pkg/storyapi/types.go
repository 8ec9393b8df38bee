package storyapi

// Pricing mirrors the `config` block of the profile response.
type Pricing struct {
	PointsPerPurchase int `json:"points_per_purchase"`
	CostPerGeneration int `json:"cost_per_generation"`
}

// DefaultPricing is used until the server has been asked.
var DefaultPricing = Pricing{PointsPerPurchase: 10, CostPerGeneration: 1}

type User struct {
	ID     string `json:"id"`
	Email  string `json:"email"`
	Points int    `json:"points"`
}

// Profile is returned by GET /api/user/profile.
type Profile struct {
	User   User    `json:"user"`
	Config Pricing `json:"config"`
}

type BreakdownRequest struct {
	Story string `json:"story"`
}

type GenerateImageRequest struct {
	Prompt string `json:"prompt"`
}

type GenerateImageResponse struct {
	ImageURL string `json:"imageUrl"`
}

type AnalyzeCharacterRequest struct {
	ImageBase64 string `json:"image_base64"`
}

type AnalyzeCharacterResponse struct {
	Analysis string `json:"analysis"`
}

type DeductRequest struct {
	Amount int `json:"amount"`
}

type DeductResponse struct {
	Message         string `json:"message"`
	RemainingPoints *int   `json:"remaining_points"`
}

type CheckoutResponse struct {
	URL string `json:"url"`
}

// ErrorBody is the error envelope every endpoint uses for non-2xx responses.
type ErrorBody struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
