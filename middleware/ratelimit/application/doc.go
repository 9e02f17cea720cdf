// Package application contém os casos de uso do guard de abuso: avaliador de
// janela fixa, log de violações, escada de penalidades, guards de login e de
// API e operações administrativas.
//
// Ele depende apenas do pacote domain e não conhece net/http.
// Ex.: Engine.Login.Check(ctx, email, ip) retorna uma Decision (allow/deny + retry-after).
package application
