// Package api provides the market data provider's REST client.
//
// REST endpoints:
//   - Production: https://api.twelvedata.com
//
// Used endpoints: /quote, /price, /time_series, /symbol_search.
// The API key travels as the apikey query parameter. The provider reports
// many errors inside HTTP 200 bodies ({"status":"error","code":...}); the
// client surfaces those as *APIError as well.
package api
