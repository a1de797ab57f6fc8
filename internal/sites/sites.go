// Package sites implements the site lifecycle behind the admin API:
// publish, update, list, get, download, delete and password rotation.
package sites

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sdko-org/site-gateway/internal/apperr"
	"github.com/sdko-org/site-gateway/internal/auth"
	"github.com/sdko-org/site-gateway/internal/kv"
	"github.com/sdko-org/site-gateway/internal/models"
	"github.com/sdko-org/site-gateway/internal/passphrase"
	"github.com/sdko-org/site-gateway/internal/storage"
	"github.com/sdko-org/site-gateway/internal/validate"
	"github.com/sirupsen/logrus"
)

var ErrSiteNotFound = apperr.NotFound("site not found")

type Limits struct {
	MaxFiles      int
	MaxFileBytes  int64
	MaxTotalBytes int64
}

type Service struct {
	store   kv.Store
	objects storage.Storage
	domain  string
	limits  Limits
	log     *logrus.Entry

	now         func() time.Time
	newPassword func() (string, error)
	newSecret   func() (string, error)
}

func NewService(logger *logrus.Logger, store kv.Store, objects storage.Storage, domain string, limits Limits) *Service {
	return &Service{
		store:       store,
		objects:     objects,
		domain:      domain,
		limits:      limits,
		log:         logger.WithField("component", "sites"),
		now:         time.Now,
		newPassword: passphrase.Generate,
		newSecret:   passphrase.NewSecret,
	}
}

type PublishInput struct {
	Title       string            `json:"title"`
	Files       map[string]string `json:"files"`
	BrandTokens map[string]string `json:"brand_tokens,omitempty"`
}

// UpdateInput leaves Title and BrandTokens untouched when nil.
type UpdateInput struct {
	Title       *string           `json:"title,omitempty"`
	Files       map[string]string `json:"files"`
	BrandTokens map[string]string `json:"brand_tokens,omitempty"`
}

type PublishResult struct {
	Brand    string `json:"brand"`
	Name     string `json:"name"`
	Title    string `json:"title"`
	URL      string `json:"url"`
	Password string `json:"password"`
	Files    int    `json:"files"`
}

type UpdateResult struct {
	Updated string `json:"updated"`
	URL     string `json:"url"`
	Files   int    `json:"files"`
}

type Summary struct {
	Brand   string `json:"brand"`
	Name    string `json:"name"`
	Title   string `json:"title"`
	URL     string `json:"url"`
	Created string `json:"created"`
}

// Info is the public view of a site record. It never carries the password
// hash or the HMAC secret.
type Info struct {
	Brand       string            `json:"brand"`
	Name        string            `json:"name"`
	Title       string            `json:"title"`
	URL         string            `json:"url"`
	BrandTokens map[string]string `json:"brand_tokens"`
	Created     string            `json:"created"`
}

type Download struct {
	Files    map[string]string `json:"files"`
	Metadata Info              `json:"metadata"`
}

type DeleteResult struct {
	Deleted string `json:"deleted"`
	Files   int    `json:"files"`
}

type RotateResult struct {
	Password string `json:"password"`
	URL      string `json:"url"`
}

func siteKey(brand, name string) string {
	return brand + "/" + name
}

// URL is the public address of a site.
func (s *Service) URL(brand, name string) string {
	return fmt.Sprintf("https://%s.%s/%s/", brand, s.domain, name)
}

// ValidateNames checks both path segments and reports failures as
// InvalidArgument.
func ValidateNames(brand, name string) error {
	if err := validate.Slug(brand, "brand"); err != nil {
		return apperr.InvalidArg("%v", err)
	}
	if err := validate.Slug(name, "site name"); err != nil {
		return apperr.InvalidArg("%v", err)
	}
	return nil
}

// Lookup loads a site record. Names must already be valid slugs.
func (s *Service) Lookup(ctx context.Context, brand, name string) (*models.Site, error) {
	raw, err := s.store.Get(ctx, siteKey(brand, name))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, ErrSiteNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load site %s/%s: %w", brand, name, err)
	}
	var site models.Site
	if err := json.Unmarshal(raw, &site); err != nil {
		return nil, fmt.Errorf("decode site %s/%s: %w", brand, name, err)
	}
	return &site, nil
}

func (s *Service) save(ctx context.Context, brand, name string, site *models.Site) error {
	raw, err := json.Marshal(site)
	if err != nil {
		return fmt.Errorf("encode site %s/%s: %w", brand, name, err)
	}
	if err := s.store.Put(ctx, siteKey(brand, name), raw, 0); err != nil {
		return fmt.Errorf("save site %s/%s: %w", brand, name, err)
	}
	return nil
}

func (s *Service) exists(ctx context.Context, brand, name string) (bool, error) {
	_, err := s.store.Get(ctx, siteKey(brand, name))
	if errors.Is(err, kv.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check site %s/%s: %w", brand, name, err)
	}
	return true, nil
}

func (s *Service) info(brand, name string, site *models.Site) Info {
	tokens := site.BrandTokens
	if tokens == nil {
		tokens = map[string]string{}
	}
	return Info{
		Brand:       brand,
		Name:        name,
		Title:       site.Title,
		URL:         s.URL(brand, name),
		BrandTokens: tokens,
		Created:     site.Created,
	}
}

func (s *Service) newCredentials() (password, secret string, err error) {
	password, err = s.newPassword()
	if err != nil {
		return "", "", fmt.Errorf("generate password: %w", err)
	}
	secret, err = s.newSecret()
	if err != nil {
		return "", "", fmt.Errorf("generate hmac secret: %w", err)
	}
	return password, secret, nil
}

func (s *Service) Publish(ctx context.Context, brand, name string, in PublishInput) (*PublishResult, error) {
	if err := ValidateNames(brand, name); err != nil {
		return nil, err
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, apperr.InvalidArg("title is required")
	}
	if len(in.Files) == 0 {
		return nil, apperr.InvalidArg("at least one file is required")
	}
	if err := validate.BrandTokens(in.BrandTokens); err != nil {
		return nil, apperr.InvalidArg("%v", err)
	}

	found, err := s.exists(ctx, brand, name)
	if err != nil {
		return nil, err
	}
	if found {
		return nil, apperr.AlreadyExists(fmt.Sprintf("site %s/%s already exists", brand, name))
	}

	files, err := s.prepareFiles(in.Files)
	if err != nil {
		return nil, err
	}

	password, secret, err := s.newCredentials()
	if err != nil {
		return nil, err
	}

	written, err := s.writeFiles(ctx, brand, name, files)
	if err != nil {
		return nil, err
	}

	site := &models.Site{
		PasswordHash: auth.HashPassword(password),
		Title:        title,
		Brand:        brand,
		HMACSecret:   secret,
		BrandTokens:  in.BrandTokens,
		Created:      s.now().UTC().Format(time.RFC3339),
	}
	if err := s.save(ctx, brand, name, site); err != nil {
		s.rollback(ctx, brand, name, written)
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"brand": brand,
		"site":  name,
		"files": len(files),
	}).Info("Site published")

	return &PublishResult{
		Brand:    brand,
		Name:     name,
		Title:    title,
		URL:      s.URL(brand, name),
		Password: password,
		Files:    len(files),
	}, nil
}

func (s *Service) Update(ctx context.Context, brand, name string, in UpdateInput) (*UpdateResult, error) {
	if err := ValidateNames(brand, name); err != nil {
		return nil, err
	}
	site, err := s.Lookup(ctx, brand, name)
	if err != nil {
		return nil, err
	}
	if len(in.Files) == 0 {
		return nil, apperr.InvalidArg("at least one file is required")
	}
	var title string
	if in.Title != nil {
		title = strings.TrimSpace(*in.Title)
		if title == "" {
			return nil, apperr.InvalidArg("title must not be empty")
		}
	}
	if err := validate.BrandTokens(in.BrandTokens); err != nil {
		return nil, apperr.InvalidArg("%v", err)
	}

	files, err := s.prepareFiles(in.Files)
	if err != nil {
		return nil, err
	}
	if _, err := s.writeFiles(ctx, brand, name, files); err != nil {
		return nil, err
	}

	if in.Title != nil || in.BrandTokens != nil {
		if in.Title != nil {
			site.Title = title
		}
		if in.BrandTokens != nil {
			site.BrandTokens = in.BrandTokens
		}
		if err := s.save(ctx, brand, name, site); err != nil {
			return nil, err
		}
	}

	s.log.WithFields(logrus.Fields{
		"brand": brand,
		"site":  name,
		"files": len(files),
	}).Info("Site updated")

	return &UpdateResult{
		Updated: siteKey(brand, name),
		URL:     s.URL(brand, name),
		Files:   len(files),
	}, nil
}

// List returns every site, or only those of brand when it is set.
// Internal keys (prefixed with "_") are skipped.
func (s *Service) List(ctx context.Context, brand string) ([]Summary, error) {
	prefix := ""
	if brand != "" {
		if err := validate.Slug(brand, "brand"); err != nil {
			return nil, apperr.InvalidArg("%v", err)
		}
		prefix = brand + "/"
	}

	keys, err := kv.ListAll(ctx, s.store, prefix)
	if err != nil {
		return nil, fmt.Errorf("list sites: %w", err)
	}

	seen := make(map[string]bool, len(keys))
	out := make([]Summary, 0, len(keys))
	for _, key := range keys {
		if strings.HasPrefix(key, "_") || seen[key] {
			continue
		}
		seen[key] = true

		b, n, ok := strings.Cut(key, "/")
		if !ok || strings.Contains(n, "/") {
			continue
		}
		site, err := s.Lookup(ctx, b, n)
		if errors.Is(err, ErrSiteNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, Summary{
			Brand:   b,
			Name:    n,
			Title:   site.Title,
			URL:     s.URL(b, n),
			Created: site.Created,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Brand != out[j].Brand {
			return out[i].Brand < out[j].Brand
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (s *Service) Get(ctx context.Context, brand, name string) (*Info, error) {
	if err := ValidateNames(brand, name); err != nil {
		return nil, err
	}
	site, err := s.Lookup(ctx, brand, name)
	if err != nil {
		return nil, err
	}
	info := s.info(brand, name, site)
	return &info, nil
}

func (s *Service) Download(ctx context.Context, brand, name string) (*Download, error) {
	if err := ValidateNames(brand, name); err != nil {
		return nil, err
	}
	site, err := s.Lookup(ctx, brand, name)
	if err != nil {
		return nil, err
	}

	prefix := storage.SitePrefix(brand, name)
	keys, err := storage.ListAll(ctx, s.objects, prefix)
	if err != nil {
		return nil, fmt.Errorf("list site files: %w", err)
	}

	files := make(map[string]string, len(keys))
	for _, key := range keys {
		content, err := s.readObject(ctx, key)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		files[strings.TrimPrefix(key, prefix)] = content
	}

	return &Download{Files: files, Metadata: s.info(brand, name, site)}, nil
}

// Delete removes every object under the site prefix before the record, so
// an interrupted delete leaves a site that can still be found and retried.
func (s *Service) Delete(ctx context.Context, brand, name string) (*DeleteResult, error) {
	if err := ValidateNames(brand, name); err != nil {
		return nil, err
	}
	if _, err := s.Lookup(ctx, brand, name); err != nil {
		return nil, err
	}

	keys, err := storage.ListAll(ctx, s.objects, storage.SitePrefix(brand, name))
	if err != nil {
		return nil, fmt.Errorf("list site files: %w", err)
	}
	if err := s.objects.DeleteMany(ctx, keys); err != nil {
		return nil, fmt.Errorf("delete site files: %w", err)
	}
	if err := s.store.Delete(ctx, siteKey(brand, name)); err != nil {
		return nil, fmt.Errorf("delete site %s/%s: %w", brand, name, err)
	}

	s.log.WithFields(logrus.Fields{
		"brand": brand,
		"site":  name,
		"files": len(keys),
	}).Info("Site deleted")

	return &DeleteResult{Deleted: siteKey(brand, name), Files: len(keys)}, nil
}

// RotatePassword replaces both the password and the HMAC secret, which
// invalidates every outstanding session for the site.
func (s *Service) RotatePassword(ctx context.Context, brand, name string) (*RotateResult, error) {
	if err := ValidateNames(brand, name); err != nil {
		return nil, err
	}
	site, err := s.Lookup(ctx, brand, name)
	if err != nil {
		return nil, err
	}

	password, secret, err := s.newCredentials()
	if err != nil {
		return nil, err
	}
	site.PasswordHash = auth.HashPassword(password)
	site.HMACSecret = secret
	if err := s.save(ctx, brand, name, site); err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{"brand": brand, "site": name}).Info("Site password rotated")
	return &RotateResult{Password: password, URL: s.URL(brand, name)}, nil
}
