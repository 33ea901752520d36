// Package tlsutil 提供集中式 TLS 配置，
// 供 VLM 后端与分割推理服务的 HTTP 客户端使用（TLS 1.2+，仅 AEAD 密码套件，可选私有 CA）。
package tlsutil
