// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package positiondb

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
)

type positionBody struct {
	PositionX float64 `json:"positionx"`
	PositionY float64 `json:"positiony"`
}

type errorBody struct {
	Error string `json:"error"`
}

// Handler serves GET /device_position?mac=|id=|num_device=.
func Handler(db *DB) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/device_position", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "method not allowed"})
			return
		}

		q := r.URL.Query()
		mac, id, num := q.Get("mac"), q.Get("id"), q.Get("num_device")

		var (
			dev Device
			err error
		)
		switch {
		case mac != "":
			dev, err = db.ByMAC(r.Context(), mac)
		case id != "":
			n, perr := strconv.ParseInt(id, 10, 64)
			if perr != nil {
				writeJSON(w, http.StatusBadRequest, errorBody{Error: "id must be an integer"})
				return
			}
			dev, err = db.ByID(r.Context(), n)
		case num != "":
			n, perr := strconv.Atoi(num)
			if perr != nil {
				writeJSON(w, http.StatusBadRequest, errorBody{Error: "num_device must be an integer"})
				return
			}
			dev, err = db.ByIndex(r.Context(), n)
		default:
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "query by mac, id or num_device"})
			return
		}

		switch {
		case errors.Is(err, ErrNotFound):
			writeJSON(w, http.StatusNotFound, errorBody{Error: "device not found"})
		case err != nil:
			log.Printf("positiondb: %v", err)
			writeJSON(w, http.StatusInternalServerError, errorBody{Error: "database error"})
		default:
			writeJSON(w, http.StatusOK, positionBody{PositionX: dev.PositionX, PositionY: dev.PositionY})
		}
	})
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("positiondb: json encode error: %v", err)
	}
}
