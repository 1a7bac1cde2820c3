package main

import (
	"context"
	"net/http"
)

type contextKey string

const userIDKey contextKey = "user_id"

func withUserID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, userIDKey, id)
}

func userID(r *http.Request) int64 {
	id, _ := r.Context().Value(userIDKey).(int64)
	return id
}
