package inject

// jsWaitImage resolves true once img loads, false on error or timeout.
const jsWaitImage = `
function waitImage(img, ms) {
  return new Promise(function(resolve) {
    if (img.complete && img.naturalWidth > 0) { resolve(true); return; }
    var done = false;
    function finish(v) { if (!done) { done = true; resolve(v); } }
    img.addEventListener('load', function() { finish(true); });
    img.addEventListener('error', function() { finish(false); });
    setTimeout(function() { finish(false); }, ms);
  });
}
function creativeImage(cfg) {
  var img = document.createElement('img');
  img.setAttribute(cfg.attr, '1');
  img.src = cfg.src;
  img.style.cssText = [
    'display:block !important',
    cfg.fit ? 'width:' + cfg.width + 'px !important' : 'max-width:100% !important',
    cfg.fit ? 'height:' + cfg.height + 'px !important' : '',
    'object-fit:cover !important',
    'border:none !important', 'margin:0 !important', 'padding:0 !important',
    'max-height:none !important'
  ].filter(Boolean).join(';');
  return img;
}
`

const jsReplaceContent = `
var cfg = %s;
var el = document.querySelector(cfg.selector);
if (!el) throw new Error('slot not found: ' + cfg.selector);
var covered = window[cfg.covered] || (window[cfg.covered] = []);
el.querySelectorAll('[' + cfg.slot_attr + ']').forEach(function(c) {
  covered.push('[' + cfg.slot_attr + '="' + c.getAttribute(cfg.slot_attr) + '"]');
});
while (el.firstChild) el.removeChild(el.firstChild);
el.style.cssText += ';' + [
  'display:block !important', 'visibility:visible !important', 'opacity:1 !important',
  'overflow:hidden !important', 'background:transparent !important', 'border:none !important',
  'position:relative !important', 'z-index:10 !important', 'min-height:0 !important',
  'max-width:none !important', 'max-height:none !important',
  cfg.fit ? 'width:' + cfg.width + 'px !important' : '',
  cfg.fit ? 'height:' + cfg.height + 'px !important' : ''
].filter(Boolean).join(';');
el.setAttribute(cfg.attr, '1');
var img = creativeImage(cfg);
el.appendChild(img);
var loaded = await waitImage(img, cfg.timeout_ms);
return JSON.stringify({ok: true, data: {loaded: loaded}});`

const jsReplaceIframe = `
var cfg = %s;
var el = document.querySelector(cfg.selector);
if (!el || !el.parentNode) throw new Error('slot not found: ' + cfg.selector);
var wrap = document.createElement('div');
wrap.setAttribute(cfg.attr, '1');
wrap.style.cssText = [
  'display:block !important', 'visibility:visible !important', 'opacity:1 !important',
  'overflow:hidden !important', 'position:relative !important', 'margin:0 auto !important',
  'width:' + cfg.width + 'px !important', 'height:' + cfg.height + 'px !important'
].join(';');
var img = creativeImage(cfg);
wrap.appendChild(img);
el.parentNode.replaceChild(wrap, el);
var loaded = await waitImage(img, cfg.timeout_ms);
return JSON.stringify({ok: true, data: {loaded: loaded}});`

const jsOverlay = `
var cfg = %s;
if (!document.body) throw new Error('document has no body');
var box = document.createElement('div');
box.setAttribute(cfg.attr, '1');
box.style.cssText = [
  'position:absolute !important',
  'left:' + (cfg.x + window.scrollX) + 'px !important',
  'top:' + (cfg.y + window.scrollY) + 'px !important',
  'width:' + cfg.width + 'px !important', 'height:' + cfg.height + 'px !important',
  'z-index:' + cfg.z + ' !important', 'overflow:hidden !important',
  'display:block !important', 'visibility:visible !important', 'opacity:1 !important'
].join(';');
var img = creativeImage(cfg);
box.appendChild(img);
document.body.appendChild(box);
var loaded = await waitImage(img, cfg.timeout_ms);
return JSON.stringify({ok: true, data: {loaded: loaded}});`
