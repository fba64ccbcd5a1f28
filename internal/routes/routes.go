package routes

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/stanstork/invitation-api/internal/authz"
	"github.com/stanstork/invitation-api/internal/handlers"
	"github.com/stanstork/invitation-api/internal/middleware"
	"github.com/stanstork/invitation-api/internal/models"
)

// Deps carries everything the router wires together.
type Deps struct {
	Health      http.HandlerFunc
	Invitations *handlers.InvitationHandler
	Enrolments  *handlers.EnrolmentHandler
	Events      *handlers.EventHandler
	Checker     *authz.Checker
	JWTSecret   string
	AcceptLimit middleware.RateLimitConfig
	Logger      zerolog.Logger
}

// NewRouter sets up the API routes.
func NewRouter(d Deps) *mux.Router {
	router := mux.NewRouter()

	// Health check route
	router.HandleFunc("/health", d.Health).Methods(http.MethodGet)

	// Public preview of an invitation
	router.HandleFunc("/api/invitations/{token}", d.Invitations.Preview).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()
	api.Use(authz.JWTMiddleware(d.JWTSecret))

	acceptLimiter := middleware.RateLimitByIP(d.AcceptLimit, d.Logger)
	api.Handle("/invitations/{token}/accept", acceptLimiter(http.HandlerFunc(d.Invitations.Accept))).Methods(http.MethodPost)

	api.HandleFunc("/enrolments/{ueID}", d.Enrolments.Get).Methods(http.MethodGet)
	api.HandleFunc("/enrolments/{ueID}", d.Enrolments.Update).Methods(http.MethodPut)
	api.HandleFunc("/enrolments/{ueID}", d.Enrolments.Delete).Methods(http.MethodDelete)

	course := api.PathPrefix("/courses/{courseID:[0-9]+}").Subrouter()
	guard := func(capability models.Capability, h http.HandlerFunc) http.Handler {
		return d.Checker.RequireCapability(capability)(h)
	}

	course.Handle("/history", guard(models.CapManage, d.Invitations.History)).Methods(http.MethodGet)
	course.Handle("/invitations", guard(models.CapManage, d.Invitations.List)).Methods(http.MethodGet)
	course.Handle("/invitations", guard(models.CapEnrol, d.Invitations.Create)).Methods(http.MethodPost)
	course.Handle("/invitations/prefill", guard(models.CapEnrol, d.Invitations.Prefill)).Methods(http.MethodGet)
	course.Handle("/invitations/{inviteID:[0-9]+}/revoke", guard(models.CapManage, d.Invitations.Revoke)).Methods(http.MethodPost)
	course.Handle("/invitations/{inviteID:[0-9]+}/extend", guard(models.CapManage, d.Invitations.Extend)).Methods(http.MethodPost)

	course.Handle("/enrolments/self", guard(models.CapUnenrolSelf, d.Enrolments.UnenrolSelf)).Methods(http.MethodDelete)
	course.Handle("/instance", guard(models.CapConfig, d.Enrolments.GetInstance)).Methods(http.MethodGet)
	course.Handle("/instance", guard(models.CapConfig, d.Enrolments.UpdateInstance)).Methods(http.MethodPut)
	course.Handle("/events", guard(models.CapManage, d.Events.List)).Methods(http.MethodGet)

	return router
}
