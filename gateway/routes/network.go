package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"mintgate/network"
)

func (a *api) peers(w http.ResponseWriter, r *http.Request) {
	peers, err := a.cfg.Network.QueryPeers(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusBadGateway, err)
		return
	}
	num, err := a.cfg.Network.QueryNumPeers(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"peers": peers, "numPeers": num})
}

func (a *api) stat(w http.ResponseWriter, r *http.Request) {
	stat, err := a.cfg.Network.QueryStat(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, stat)
}

type shardResponse struct {
	Shard   network.Shard   `json:"shard"`
	Gateway network.Gateway `json:"gateway"`
}

func (a *api) shard(w http.ResponseWriter, r *http.Request) {
	shard, gw, err := a.cfg.Shards.SelectShard(r.Context(), chi.URLParam(r, "asset"))
	if err != nil {
		writeJSONError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, shardResponse{Shard: shard, Gateway: gw})
}
