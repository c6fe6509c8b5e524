package httpapi

import (
	"transcendence/pong/internal/bridge"
	"transcendence/pong/internal/gamehost"
	"transcendence/pong/internal/matchmaking"
)

func boolValue(v bool) float64 {
	if v {
		return 1
	}
	return 0
}

// HostMetrics renders the simulation host counters.
func HostMetrics(stats func() gamehost.Stats) MetricsFunc {
	return func() []Metric {
		s := stats()
		return []Metric{
			{Name: "matches", Help: "Live matches.", Type: "gauge", Value: float64(s.Matches)},
			{Name: "players", Help: "Sockets bound to a match slot.", Type: "gauge", Value: float64(s.Players)},
			{Name: "rejected_ips_total", Help: "Connections refused by the per-IP limit.", Type: "counter", Value: float64(s.RejectedIPs)},
			{Name: "lobby_connected", Help: "Whether the matchmaker link is attached.", Type: "gauge", Value: boolValue(s.Lobby.Connected)},
			{Name: "lobby_queued", Help: "Messages waiting for the matchmaker link.", Type: "gauge", Value: float64(s.Lobby.Queued)},
			{Name: "lobby_sent_total", Help: "Messages delivered to the matchmaker.", Type: "counter", Value: float64(s.Lobby.Sent)},
			{Name: "lobby_dropped_total", Help: "Messages dropped because the lobby queue was full.", Type: "counter", Value: float64(s.Lobby.Dropped)},
			{Name: "input_dropped_total", Help: "Paddle inputs refused by the flood gate.", Type: "counter", Labels: map[string]string{"reason": "rate_limited"}, Value: float64(s.Inputs.RateLimited)},
			{Name: "input_dropped_total", Help: "Paddle inputs refused by the flood gate.", Type: "counter", Labels: map[string]string{"reason": "reordered"}, Value: float64(s.Inputs.Reordered)},
			{Name: "snapshot_frames_total", Help: "Snapshots broadcast to players.", Type: "counter", Value: float64(s.Snapshots.Frames)},
			{Name: "snapshot_bytes_total", Help: "Encoded snapshot bytes broadcast.", Type: "counter", Value: float64(s.Snapshots.Bytes)},
			{Name: "snapshot_dropped_total", Help: "Snapshots dropped for slow spectators.", Type: "counter", Value: float64(s.Snapshots.Dropped)},
			{Name: "tick_seconds", Help: "Simulation step duration.", Type: "gauge", Labels: map[string]string{"stat": "avg"}, Value: s.Tick.Average.Seconds()},
			{Name: "tick_seconds", Help: "Simulation step duration.", Type: "gauge", Labels: map[string]string{"stat": "max"}, Value: s.Tick.Max.Seconds()},
			{Name: "tick_overruns_total", Help: "Steps that exceeded their budget.", Type: "counter", Value: float64(s.Tick.Overruns)},
			{Name: "replay_active", Help: "Matches currently recorded.", Type: "gauge", Value: float64(s.Replay.ActiveMatches)},
			{Name: "replay_frames_total", Help: "Snapshots written to replays.", Type: "counter", Value: float64(s.Replay.RecordedFrames)},
			{Name: "replay_bundles_total", Help: "Replay bundles sealed.", Type: "counter", Value: float64(s.Replay.Bundles)},
		}
	}
}

// MatchmakerMetrics renders the matchmaking and bridge counters.
func MatchmakerMetrics(stats func() matchmaking.Stats, link func() bridge.Stats) MetricsFunc {
	return func() []Metric {
		s := stats()
		samples := []Metric{
			{Name: "clients", Help: "Registered clients.", Type: "gauge", Value: float64(s.Clients)},
			{Name: "clients_connected", Help: "Clients with a socket attached.", Type: "gauge", Value: float64(s.Connected)},
			{Name: "parties", Help: "Open parties.", Type: "gauge", Value: float64(s.Parties)},
			{Name: "lobbies", Help: "Lobbies waiting for their matches to end.", Type: "gauge", Value: float64(s.Lobbies)},
			{Name: "matches", Help: "Matches running on the host for this matchmaker.", Type: "gauge", Value: float64(s.Matches)},
			{Name: "groups_total", Help: "Groups formed by the matcher.", Type: "counter", Value: float64(s.Groups)},
		}
		for _, mode := range matchmaking.GameTypes {
			samples = append(samples, Metric{
				Name:   "queue_depth",
				Help:   "Parties waiting per game type.",
				Type:   "gauge",
				Labels: map[string]string{"game_type": string(mode)},
				Value:  float64(s.Queued[mode]),
			})
		}
		if link != nil {
			b := link()
			samples = append(samples,
				Metric{Name: "bridge_connected", Help: "Whether the host link is logged in.", Type: "gauge", Value: boolValue(b.Connected)},
				Metric{Name: "bridge_queued", Help: "Match requests waiting for the host link.", Type: "gauge", Value: float64(b.Queued)},
				Metric{Name: "bridge_pending", Help: "Match requests awaiting MATCH_CREATED.", Type: "gauge", Value: float64(b.Pending)},
				Metric{Name: "bridge_tracked", Help: "Host matches awaiting their end.", Type: "gauge", Value: float64(b.Tracked)},
				Metric{Name: "bridge_reconnects_total", Help: "Host link reconnect attempts.", Type: "counter", Value: float64(b.Reconnects)},
			)
		}
		return samples
	}
}
