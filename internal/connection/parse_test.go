package connection

import (
	"testing"
	"time"

	"github.com/rickgao/quotecore/internal/model"
)

func TestParseTick(t *testing.T) {
	recv := time.Date(2024, 1, 15, 15, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		data    string
		wantErr bool
		want    model.QuoteSnapshot
	}{
		{
			name: "numeric fields",
			data: `{"event":"price","symbol":"aapl","price":190.12,"change":1.5,"percent_change":0.79,"day_volume":1200,"timestamp":1705330800}`,
			want: model.QuoteSnapshot{
				Symbol: "AAPL", Price: 190.12, Change: 1.5, ChangePercent: 0.79, Volume: 1200,
				Timestamp: time.Unix(1705330800, 0).UTC(), Source: model.SourceStream,
			},
		},
		{
			name: "string fields",
			data: `{"event":"price","symbol":"MSFT","price":"410.5","volume":"99"}`,
			want: model.QuoteSnapshot{
				Symbol: "MSFT", Price: 410.5, Volume: 99, Timestamp: recv, Source: model.SourceStream,
			},
		},
		{
			name: "bad optional fields become zero",
			data: `{"event":"price","symbol":"TSLA","price":200,"change":"n/a"}`,
			want: model.QuoteSnapshot{
				Symbol: "TSLA", Price: 200, Timestamp: recv, Source: model.SourceStream,
			},
		},
		{name: "missing price", data: `{"event":"price","symbol":"AAPL"}`, wantErr: true},
		{name: "non-numeric price", data: `{"event":"price","symbol":"AAPL","price":"abc"}`, wantErr: true},
		{name: "negative price", data: `{"event":"price","symbol":"AAPL","price":-1}`, wantErr: true},
		{name: "boolean price", data: `{"event":"price","symbol":"AAPL","price":true}`, wantErr: true},
		{name: "missing symbol", data: `{"event":"price","price":1}`, wantErr: true},
		{name: "other event", data: `{"event":"heartbeat","status":"ok"}`, wantErr: true},
		{name: "not json", data: `nope`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTick([]byte(tt.data), recv)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseTick() = %+v, want %+v", got, tt.want)
			}
		})
	}
}
