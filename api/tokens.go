package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/xraph/tokenledger"
	"github.com/xraph/tokenledger/catalog"
	"github.com/xraph/tokenledger/client"
)

func (s *Server) balance(c *gin.Context) {
	b, err := s.ledger.Balance(c.Request.Context(), c.Param("userID"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

func (s *Server) initialize(c *gin.Context) {
	b, err := s.ledger.Initialize(c.Request.Context(), c.Param("userID"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

func (s *Server) history(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.fail(c, tokenledger.ErrInvalidInput)
			return
		}
		limit = n
	}
	txs, err := s.ledger.History(c.Request.Context(), c.Param("userID"), limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, client.HistoryResponse{Transactions: txs})
}

func (s *Server) check(c *gin.Context) {
	op, err := catalog.ParseOperation(c.Query("operation"))
	if err != nil {
		s.fail(c, err)
		return
	}
	cost, err := s.ledger.Catalog().Cost(op)
	if err != nil {
		s.fail(c, err)
		return
	}
	ok, err := s.ledger.HasSufficientBalance(c.Request.Context(), c.Param("userID"), op)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, client.CheckResponse{Operation: op, Cost: cost, Sufficient: ok})
}

func (s *Server) debit(c *gin.Context) {
	op, req, ok := s.bindOperation(c)
	if !ok {
		return
	}
	res, err := s.ledger.Debit(c.Request.Context(), c.Param("userID"), op, req.ContentID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) record(c *gin.Context) {
	op, req, ok := s.bindOperation(c)
	if !ok {
		return
	}
	b, err := s.ledger.Record(c.Request.Context(), c.Param("userID"), op, req.ContentID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

func (s *Server) subscription(c *gin.Context) {
	rec, err := s.ledger.Subscription(c.Request.Context(), c.Param("userID"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) catalog(c *gin.Context) {
	cat := s.ledger.Catalog()
	c.JSON(http.StatusOK, client.CatalogResponse{Prices: cat.Prices(), Allotments: cat.Allotments()})
}

func (s *Server) bindOperation(c *gin.Context) (catalog.Operation, client.OperationRequest, bool) {
	var req client.OperationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, tokenledger.ErrInvalidInput)
		return "", req, false
	}
	op, err := catalog.ParseOperation(string(req.Operation))
	if err != nil {
		s.fail(c, err)
		return "", req, false
	}
	return op, req, true
}

// fail writes err as an ErrorResponse with the matching status.
func (s *Server) fail(c *gin.Context, err error) {
	code := client.ErrorCode(err)
	resp := client.ErrorResponse{Error: err.Error(), Code: code}

	status := http.StatusInternalServerError
	switch code {
	case client.CodeInsufficientTokens:
		status = http.StatusPaymentRequired
		var ite *tokenledger.InsufficientTokensError
		if errors.As(err, &ite) {
			resp.Cost, resp.Remaining = ite.Cost, ite.Remaining
		}
	case client.CodeBalanceNotFound, client.CodeSubscriptionNotFound:
		status = http.StatusNotFound
	case client.CodeUnknownOperation, client.CodeUnpricedOperation, client.CodeInvalidInput:
		status = http.StatusBadRequest
	case client.CodeUnauthorized:
		status = http.StatusUnauthorized
	case client.CodeForbidden:
		status = http.StatusForbidden
	case client.CodeUnavailable:
		status = http.StatusServiceUnavailable
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.Request.URL.Path, "user_id", c.Param("userID"), "error", err)
		resp.Error = http.StatusText(status)
	}
	c.AbortWithStatusJSON(status, resp)
}
