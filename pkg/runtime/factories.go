// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package runtime

import (
	"fmt"
	"log/slog"

	"github.com/kadirpekel/quill/pkg/auth"
	"github.com/kadirpekel/quill/pkg/config"
	"github.com/kadirpekel/quill/pkg/httpclient"
	"github.com/kadirpekel/quill/pkg/observability"
	"github.com/kadirpekel/quill/pkg/render"
	"github.com/kadirpekel/quill/pkg/storage"
	"github.com/kadirpekel/quill/pkg/webhook"
)

// DefaultRendererFactory creates the renderer named by renderer.type.
func DefaultRendererFactory(cfg *config.RendererConfig, logger *slog.Logger) (render.Renderer, error) {
	switch cfg.Type {
	case config.RendererHTTP:
		transport, err := httpclient.NewTransport(cfg.TLS)
		if err != nil {
			return nil, fmt.Errorf("renderer tls: %w", err)
		}
		client := httpclient.New(
			httpclient.WithTransport(transport),
			httpclient.WithMaxRetries(1),
			httpclient.WithLogger(logger),
		)
		return render.NewHTTPRenderer(cfg.Endpoint,
			render.WithClient(client),
			render.WithTimeout(cfg.Timeout),
			render.WithPaperFormat(cfg.PaperFormat),
			render.WithValidation(cfg.ShouldValidate()),
			render.WithLogger(logger),
		)

	case config.RendererText, "":
		return render.NewTextRenderer(), nil

	default:
		return nil, fmt.Errorf("unknown renderer type: %s", cfg.Type)
	}
}

// DefaultStorageFactory creates the object storage named by storage.type.
func DefaultStorageFactory(cfg *config.StorageConfig) (storage.ObjectStorage, error) {
	switch cfg.Type {
	case config.StorageFile, "":
		return storage.NewFileStorage(cfg.Directory, cfg.PublicBaseURL)
	case config.StorageMemory:
		return storage.NewMemoryStorage(cfg.PublicBaseURL), nil
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}

// DefaultNotifierFactory creates the webhook notifier. Deliveries are signed
// when a signing secret is configured.
func DefaultNotifierFactory(cfg *config.WebhooksConfig, metrics observability.Metrics, logger *slog.Logger) (*webhook.Notifier, error) {
	policy := webhook.Policy{
		Schemes:              cfg.Schemes,
		Hosts:                cfg.Hosts,
		AllowPrivateNetworks: cfg.AllowPrivateNetworks,
	}
	opts := []webhook.Option{
		webhook.WithLogger(logger),
		webhook.WithMetrics(metrics),
	}
	if cfg.RatePerSecond > 0 {
		opts = append(opts, webhook.WithRateLimit(cfg.RatePerSecond, cfg.Burst))
	}
	if cfg.SigningSecret != "" {
		signer, err := auth.NewSigner(cfg.SigningSecret)
		if err != nil {
			return nil, fmt.Errorf("webhook signer: %w", err)
		}
		opts = append(opts, webhook.WithSigner(signer))
	}
	if len(cfg.Hosts) == 0 {
		logger.Warn("No webhook hosts allowed, completion callbacks are disabled")
	}
	return webhook.NewNotifier(policy, opts...), nil
}

// WorkerSigner returns the signer for worker tokens, or nil when no worker
// secret is configured.
func WorkerSigner(cfg *config.PipelineConfig) (*auth.Signer, error) {
	if cfg.WorkerSecret == "" {
		return nil, nil
	}
	signer, err := auth.NewSigner(cfg.WorkerSecret, auth.WithTTL(cfg.WorkerTokenTTL))
	if err != nil {
		return nil, fmt.Errorf("worker signer: %w", err)
	}
	return signer, nil
}
