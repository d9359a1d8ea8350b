package pharmadesk

import (
	"errors"
	"net/http"

	"github.com/go-chi/cors"

	"github.com/putto11262002/pharmadesk/core"
	"github.com/putto11262002/pharmadesk/pkg/catalog"
	"github.com/putto11262002/pharmadesk/pkg/router"
)

func notFound(err error) router.Error {
	return router.NewJsonError(http.StatusNotFound, err.Error())
}

func (app *App) routes() *router.Router {
	r := router.New(router.WithLogger(app.logger),
		router.WithDefaultError(router.NewJsonError(http.StatusInternalServerError, "خطای داخلی سرور")))
	r.RegisterErrorMapper(core.ErrInvalidRoom, notFound)
	r.RegisterErrorMapper(catalog.ErrNotFound, notFound)
	r.RegisterErrorMapper(catalog.ErrNotLoaded, func(err error) router.Error {
		return router.NewJsonError(http.StatusServiceUnavailable, err.Error())
	})

	r.Router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   app.config.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))
	r.Use(core.OptionalAuthMiddleware(app.authStore))

	r.Group(func(r *router.Router) {
		r.Use(core.VisitorSessionMiddleware())
		app.support.MountSockets(r)
	})

	authHandler := NewAuthHandler(app.authStore, app.userStore, app.config.Mode == ProdMode)
	chatHandler := NewChatHandler(app.chatStore, app.support)
	catalogHandler := NewCatalogHandler(app.catalog)
	ratesHandler := NewRatesHandler(app.rates)
	paymentHandler := NewPaymentHandler(app.verifier)
	staff := core.StaffOnly()

	r.Route("/api", func(r *router.Router) {
		r.Route("/auth", func(r *router.Router) {
			r.Post("/signin", authHandler.SigninHandler)
			r.With(core.JWTMiddleware(app.authStore)).Post("/signout", authHandler.SignoutHandler)
			r.With(core.JWTMiddleware(app.authStore)).Get("/me", authHandler.MeHandler)
		})

		r.Route("/chat", func(r *router.Router) {
			r.Use(staff)
			r.Get("/rooms", chatHandler.ListRoomsHandler)
			r.Get("/rooms/{roomID}/messages", chatHandler.RoomMessagesHandler)
			r.Post("/rooms/{roomID}/clear", chatHandler.ClearRoomHandler)
			r.Post("/rooms/{roomID}/delete", chatHandler.DeleteRoomHandler)
			r.Post("/rooms/{roomID}/block", chatHandler.BlockHandler)
			r.Post("/rooms/{roomID}/unblock", chatHandler.UnblockHandler)
		})

		r.Route("/catalog", func(r *router.Router) {
			r.Get("/medicines", catalogHandler.SearchHandler)
			r.Get("/categories", catalogHandler.CategoriesHandler)
			r.Get("/medicines/{id}", catalogHandler.MedicineHandler)
			r.Get("/groups/{key}", catalogHandler.GroupHandler)
			r.With(staff).Post("/reload", catalogHandler.ReloadHandler)
		})

		r.Route("/rates", func(r *router.Router) {
			r.Get("/crypto", ratesHandler.CryptoHandler)
			r.Get("/irr", ratesHandler.IRRHandler)
		})

		r.With(staff).Post("/payments/verify", paymentHandler.VerifyHandler)
	})

	r.Get("/healthz", app.healthHandler)
	return r
}

func (app *App) healthHandler(w http.ResponseWriter, r *http.Request) error {
	if err := app.db.PingContext(r.Context()); err != nil {
		return errors.Join(router.NewJsonError(http.StatusServiceUnavailable, "database unavailable"), err)
	}
	version, err := app.db.MigrationVersion()
	if err != nil {
		return err
	}
	return router.JSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"schema":      version,
		"connections": app.conns.Count(),
	})
}
