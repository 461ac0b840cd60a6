package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	paymentdomain "github.com/smallbiznis/imagegen/internal/payment/domain"
)

// maxWebhookBody bounds provider payloads read into memory.
const maxWebhookBody = 1 << 20

func (s *Server) ListProducts(c *gin.Context) {
	products, err := s.productSvc.List(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, products)
}

type createCheckoutRequest struct {
	ProductSKU string  `json:"product_sku"`
	DeviceID   string  `json:"device_id"`
	SuccessURL string  `json:"success_url"`
	Email      *string `json:"optional_email"`
}

func (s *Server) CreateCheckout(c *gin.Context) {
	var req createCheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	var email string
	if req.Email != nil {
		email = strings.TrimSpace(*req.Email)
	}

	session, err := s.checkoutSvc.CreateCheckout(c.Request.Context(), paymentdomain.CheckoutRequest{
		ProductSKU: strings.TrimSpace(req.ProductSKU),
		DeviceID:   strings.TrimSpace(req.DeviceID),
		SuccessURL: strings.TrimSpace(req.SuccessURL),
		Email:      email,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, session)
}

func (s *Server) HandlePaymentWebhook(c *gin.Context) {
	provider := strings.TrimSpace(c.Param("provider"))
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	err = s.paymentSvc.IngestWebhook(c.Request.Context(), provider, payload, c.Request.Header)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrEventAlreadyProcessed) {
			c.JSON(http.StatusOK, gin.H{"received": true})
			return
		}
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}
