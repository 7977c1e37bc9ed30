package services

import (
	"bytes"
	"fmt"
	"hash/fnv"
	"image"
	"image/color"
	"os"
	"strings"
	"time"

	_ "image/jpeg"
	_ "image/png"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"github.com/google/uuid"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"gorm.io/gorm"

	"github.com/yungbote/rewatch-backend/internal/clients/gcp"
	types "github.com/yungbote/rewatch-backend/internal/domain"
	"github.com/yungbote/rewatch-backend/internal/pkg/dbctx"
	"github.com/yungbote/rewatch-backend/internal/platform/logger"
)

const avatarSize = 512

// AvatarService renders and stores user avatars. The generated initials
// avatar is deterministic: the same user always gets the same background
// color, so regeneration after a name change never shifts the palette.
type AvatarService interface {
	CreateAndUploadUserAvatar(dbc dbctx.Context, user *types.User) error
	CreateAndUploadUserAvatarFromImage(dbc dbctx.Context, user *types.User, raw []byte) error
	GenerateUserAvatar(user *types.User) (bytes.Buffer, error)
}

var avatarPalette = []color.NRGBA{
	{R: 0x4C, G: 0x6E, B: 0xF5, A: 0xFF},
	{R: 0x0C, G: 0xA6, B: 0x78, A: 0xFF},
	{R: 0xD9, G: 0x48, B: 0x0F, A: 0xFF},
	{R: 0x7C, G: 0x3A, B: 0xED, A: 0xFF},
	{R: 0x0E, G: 0xA5, B: 0xE9, A: 0xFF},
	{R: 0xDB, G: 0x27, B: 0x77, A: 0xFF},
	{R: 0x65, G: 0xA3, B: 0x0D, A: 0xFF},
	{R: 0xC0, G: 0x26, B: 0x2C, A: 0xFF},
}

type avatarService struct {
	db            *gorm.DB
	log           *logger.Logger
	bucketService gcp.BucketService

	bgColors []color.NRGBA
	fontFace font.Face
}

func NewAvatarService(db *gorm.DB, log *logger.Logger, bucketService gcp.BucketService) (AvatarService, error) {
	serviceLog := log.With("service", "AvatarService")

	fontPath := os.Getenv("AVATAR_FONT")
	if strings.TrimSpace(fontPath) == "" {
		return nil, fmt.Errorf("env var AVATAR_FONT is empty")
	}
	serviceLog.Info("Loading avatar font", "font", fontPath)

	face, err := loadFontFace(fontPath, 206)
	if err != nil {
		return nil, fmt.Errorf("could not load avatar font: %w", err)
	}

	return &avatarService{
		db:            db,
		log:           serviceLog,
		bucketService: bucketService,
		bgColors:      avatarPalette,
		fontFace:      face,
	}, nil
}

func (as *avatarService) CreateAndUploadUserAvatar(dbc dbctx.Context, user *types.User) error {
	if user == nil || user.ID == uuid.Nil {
		return fmt.Errorf("user required")
	}
	buf, err := as.GenerateUserAvatar(user)
	if err != nil {
		return err
	}
	return as.swapAvatarObject(dbc, user, &buf)
}

func (as *avatarService) CreateAndUploadUserAvatarFromImage(dbc dbctx.Context, user *types.User, raw []byte) error {
	if user == nil || user.ID == uuid.Nil {
		return fmt.Errorf("user required")
	}
	processed, err := processUploadedAvatar(raw, avatarSize)
	if err != nil {
		return err
	}
	return as.swapAvatarObject(dbc, user, &processed)
}

// swapAvatarObject uploads the rendered PNG under a fresh versioned key,
// points the row at it, then best-effort deletes the previous object. The
// nanosecond suffix keeps CDN and browser caches from serving stale content
// after a change.
func (as *avatarService) swapAvatarObject(dbc dbctx.Context, user *types.User, png *bytes.Buffer) error {
	oldKey := strings.TrimSpace(user.AvatarBucketKey)
	newKey := fmt.Sprintf("user_avatar/%s/%d.png", user.ID.String(), time.Now().UnixNano())

	if err := as.bucketService.UploadFile(dbc, gcp.BucketCategoryAvatar, newKey, bytes.NewReader(png.Bytes())); err != nil {
		return fmt.Errorf("failed to upload user avatar: %w", err)
	}

	user.AvatarBucketKey = newKey
	user.AvatarURL = as.bucketService.GetPublicURL(gcp.BucketCategoryAvatar, newKey)

	// Only remove the old object once the new one is in place.
	if oldKey != "" && oldKey != newKey {
		if err := as.bucketService.DeleteFile(dbctx.Context{Ctx: dbc.Ctx}, gcp.BucketCategoryAvatar, oldKey); err != nil {
			as.log.Warn("failed to delete old avatar (ignored)", "oldKey", oldKey, "error", err)
		}
	}
	return nil
}

func (as *avatarService) GenerateUserAvatar(user *types.User) (bytes.Buffer, error) {
	return renderInitialsAvatar(as.fontFace, as.pickColor(user), computeInitials(user))
}

// renderInitialsAvatar draws one or two letters centered on a solid circle.
// The +5/-10 nudges compensate for the font metrics so glyphs sit optically
// centered.
func renderInitialsAvatar(face font.Face, bg color.NRGBA, initials string) (bytes.Buffer, error) {
	var buf bytes.Buffer
	half := float64(avatarSize) / 2

	dc := gg.NewContext(avatarSize, avatarSize)
	dc.DrawCircle(half, half, half)
	dc.Clip()

	dc.SetColor(bg)
	dc.DrawRectangle(0, 0, float64(avatarSize), float64(avatarSize))
	dc.Fill()

	dc.SetFontFace(face)
	tw, th := dc.MeasureString(initials)
	dc.SetColor(color.White)
	dc.DrawString(initials, half-(tw/2)+5, half+(th/2)-10)

	if err := dc.EncodePNG(&buf); err != nil {
		return buf, fmt.Errorf("failed to encode PNG: %w", err)
	}
	return buf, nil
}

func processUploadedAvatar(raw []byte, size int) (bytes.Buffer, error) {
	var out bytes.Buffer

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return out, fmt.Errorf("decode image: %w", err)
	}

	square := centerCropSquare(img)

	scaled := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.CatmullRom.Scale(scaled, scaled.Bounds(), square, square.Bounds(), draw.Over, nil)

	half := float64(size) / 2
	dc := gg.NewContext(size, size)
	dc.DrawCircle(half, half, half)
	dc.Clip()
	dc.DrawImage(scaled, 0, 0)

	if err := dc.EncodePNG(&out); err != nil {
		return out, fmt.Errorf("encode png: %w", err)
	}
	return out, nil
}

// centerCropSquare trims the longer axis symmetrically.
func centerCropSquare(img image.Image) *image.RGBA {
	b := img.Bounds()
	side := b.Dx()
	if b.Dy() < side {
		side = b.Dy()
	}
	origin := image.Point{
		X: b.Min.X + (b.Dx()-side)/2,
		Y: b.Min.Y + (b.Dy()-side)/2,
	}
	out := image.NewRGBA(image.Rect(0, 0, side, side))
	draw.Draw(out, out.Bounds(), img, origin, draw.Src)
	return out
}

// pickColor hashes the auth subject so the choice survives restarts and
// name changes. Falls back to the row id for rows created before subjects
// were recorded.
func (as *avatarService) pickColor(user *types.User) color.NRGBA {
	seed := strings.TrimSpace(user.AuthSubject)
	if seed == "" {
		seed = user.ID.String()
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(seed))
	return as.bgColors[int(h.Sum32())%len(as.bgColors)]
}

func computeInitials(user *types.User) string {
	first := strings.TrimSpace(user.FirstName)
	last := strings.TrimSpace(user.LastName)
	if first == "" && last == "" {
		return emailInitial(user.Email)
	}

	out := ""
	if first != "" {
		out += strings.ToUpper(first[:1])
	}
	if last != "" {
		out += strings.ToUpper(last[:1])
	}
	return out
}

func emailInitial(email string) string {
	local := email
	if i := strings.IndexByte(local, '@'); i > 0 {
		local = local[:i]
	}
	local = strings.TrimSpace(local)
	if local == "" {
		return "?"
	}
	return strings.ToUpper(local[:1])
}

func loadFontFace(path string, points float64) (font.Face, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read font file: %w", err)
	}
	ttf, err := truetype.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse TTF: %w", err)
	}
	return truetype.NewFace(ttf, &truetype.Options{
		Size:    points,
		DPI:     72,
		Hinting: font.HintingNone,
	}), nil
}
