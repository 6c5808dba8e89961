package handlers

import (
	"net/http"

	"illustrator/internal/middleware"
)

var welcomeMessages = map[string]string{
	"en": "Welcome to the AI Photo Illustration API",
	"id": "Selamat datang di API Ilustrasi Foto AI",
}

func (a *App) Root(w http.ResponseWriter, r *http.Request) {
	msg, ok := welcomeMessages[middleware.LocaleFromContext(r.Context())]
	if !ok {
		msg = welcomeMessages["en"]
	}
	a.json(w, http.StatusOK, map[string]string{"message": msg})
}
