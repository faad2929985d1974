package router

import (
	"net/http"

	"github.com/heartlink/backend/internal/access"
	"github.com/heartlink/backend/internal/auth"
	"github.com/heartlink/backend/internal/middleware"
	"github.com/heartlink/backend/internal/redemption"
	"github.com/heartlink/backend/internal/topup"
	"github.com/heartlink/backend/internal/wallet"
)

// New returns the API handler. Authenticated routes run behind BearerAuth;
// the admin surface additionally requires the matching capability.
func New(
	authHandler *auth.Handler,
	walletHandler *wallet.Handler,
	redeemHandler *redemption.Handler,
	topupHandler *topup.Handler,
	validator middleware.TokenValidator,
	gate access.Gate,
) http.Handler {
	mux := http.NewServeMux()

	authed := middleware.BearerAuth(validator)
	canApprove := middleware.RequireCapability(gate, access.CapApproveTopUp)
	canGrant := middleware.RequireCapability(gate, access.CapGrantCredits)

	// Account actions
	mux.HandleFunc("POST /api/v1/auth/otp", authHandler.IssueOTP)
	mux.HandleFunc("POST /api/v1/auth/otp/verify", authHandler.VerifyOTP)
	mux.HandleFunc("POST /api/v1/auth/register", authHandler.Register)
	mux.HandleFunc("POST /api/v1/auth/login", authHandler.Login)

	// Catalog
	mux.HandleFunc("GET /api/v1/packages", topupHandler.Packages)

	// Wallet
	mux.Handle("GET /api/v1/wallet/balances", authed(http.HandlerFunc(walletHandler.GetBalances)))
	mux.Handle("GET /api/v1/wallet/transactions", authed(http.HandlerFunc(walletHandler.ListTransactions)))
	mux.Handle("POST /api/v1/wallet/redeem", authed(http.HandlerFunc(redeemHandler.Redeem)))

	// Top-up requests
	mux.Handle("POST /api/v1/topups", authed(http.HandlerFunc(topupHandler.Create)))
	mux.Handle("GET /api/v1/topups", authed(http.HandlerFunc(topupHandler.ListMine)))
	mux.Handle("POST /api/v1/topups/{id}/cancel", authed(http.HandlerFunc(topupHandler.Cancel)))

	// Admin
	mux.Handle("GET /api/v1/admin/topups", authed(canApprove(http.HandlerFunc(topupHandler.ListAll))))
	mux.Handle("GET /api/v1/admin/topups/counts", authed(canApprove(http.HandlerFunc(topupHandler.Counts))))
	mux.Handle("POST /api/v1/admin/topups/{id}/approve", authed(canApprove(http.HandlerFunc(topupHandler.Approve))))
	mux.Handle("POST /api/v1/admin/topups/{id}/reject", authed(canApprove(http.HandlerFunc(topupHandler.Reject))))
	mux.Handle("POST /api/v1/admin/credits/grant", authed(canGrant(http.HandlerFunc(walletHandler.Grant))))

	return mux
}
